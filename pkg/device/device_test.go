package device

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestEnumeratorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	has, err := Enumerator{Indices: 2}.HasCamera(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if has {
		t.Error("cancelled enumeration should not report a camera")
	}
}

func TestDecode(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatal(err)
	}

	img, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("bounds = %v, want 40x30", b)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not an image")); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestCameraSnapshot(t *testing.T) {
	has, _ := Enumerator{Indices: 1}.HasCamera(context.Background())
	if !has {
		t.Skip("no camera attached, skipping test")
	}

	cam, err := Open(Config{Index: 0, Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer cam.Close()

	img, err := cam.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if img.Bounds().Empty() {
		t.Error("snapshot is empty")
	}
}
