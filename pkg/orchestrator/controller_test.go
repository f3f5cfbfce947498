package orchestrator

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-idcapture/pkg/capability"
	"github.com/teslashibe/go-idcapture/pkg/capture"
	"github.com/teslashibe/go-idcapture/pkg/payload"
	"github.com/teslashibe/go-idcapture/pkg/protocol"
	"github.com/teslashibe/go-idcapture/pkg/store"
	"github.com/teslashibe/go-idcapture/pkg/validation"
)

type harness struct {
	ctrl    *Controller
	store   store.Backend
	channel *validation.Loopback
	probe   *capability.Probe

	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
}

func newHarness(t *testing.T, session capture.Session, probe *capability.Probe, st store.Backend) *harness {
	t.Helper()
	if probe == nil {
		probe = capability.NewProbe(true, capability.Static(true))
	}
	if st == nil {
		st = store.NewMemoryStore()
	}

	var seq atomic.Int64
	b := payload.NewBuilder(payload.DefaultConfig())
	b.NewID = func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }

	h := &harness{
		store:   st,
		channel: validation.NewLoopback(),
		probe:   probe,
		done:    make(chan error, 1),
	}
	h.ctrl = NewController(session, Options{LiveDisplay: true}, h.store, h.channel, b, probe)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.ctrl.Run(ctx) }()
	t.Cleanup(h.stop)
	h.settle(t)
}

func (h *harness) stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
		}
	})
}

func (h *harness) waitProbe(t *testing.T) {
	t.Helper()
	select {
	case <-h.ctrl.ProbeSettled():
	case <-time.After(2 * time.Second):
		t.Fatal("probe result was not applied")
	}
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Settle(ctx))
}

func frame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	return img
}

func pngFile(t *testing.T, name string) capture.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, frame()))
	return capture.File{Name: name, ContentType: "image/png", Data: buf.Bytes()}
}

func TestControllerFaceScreenshot(t *testing.T) {
	h := newHarness(t, capture.FaceSession(), nil, nil)
	h.start(t)

	require.NoError(t, h.ctrl.Screenshot(context.Background(), frame()))
	h.settle(t)

	caps := h.store.Captures(capture.KindFace)
	require.Len(t, caps, 1)
	assert.Equal(t, capture.Valid, caps[0].Valid)
	assert.NotEmpty(t, caps[0].Image)
	assert.NotEmpty(t, caps[0].ImageLossy)
	assert.Empty(t, h.channel.Sent(), "face captures are never sent")

	view := h.ctrl.View()
	assert.Equal(t, StateConfirmed, view.State)
	assert.Equal(t, ModeConfirmed, view.Mode)
}

func TestControllerEmptyFrameDropped(t *testing.T) {
	h := newHarness(t, capture.FaceSession(), nil, nil)
	h.start(t)

	require.NoError(t, h.ctrl.Screenshot(context.Background(), nil))
	h.settle(t)

	assert.Empty(t, h.store.Captures(capture.KindFace))
	assert.Equal(t, capture.ReasonNone, h.ctrl.View().Error)
}

func TestControllerFrontDocumentValidation(t *testing.T) {
	h := newHarness(t, capture.FrontDocumentSession("passport"), nil, nil)
	h.start(t)
	kind := capture.KindDocumentFront

	require.NoError(t, h.ctrl.SelectFile(context.Background(), pngFile(t, "front.png")))
	h.settle(t)

	sent := h.channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "id-1", sent[0].ID)
	assert.Equal(t, protocol.TypeDocument, sent[0].MessageType)
	assert.Equal(t, "passport", sent[0].DocumentType)

	c, err := h.store.Get("id-1")
	require.NoError(t, err)
	assert.Equal(t, capture.Unknown, c.Valid)
	assert.Equal(t, sent[0].Image, c.ImageLossy)
	assert.Equal(t, StateAwaitingValidation, h.ctrl.View().State)

	h.channel.DeliverRaw([]byte(`{"id": 1}`))
	h.channel.Deliver(protocol.ValidationResult{ID: "id-1", Valid: true})
	h.settle(t)

	c, err = h.store.Get("id-1")
	require.NoError(t, err)
	assert.Equal(t, capture.Valid, c.Valid)

	h.channel.Deliver(protocol.ValidationResult{ID: "id-1", Valid: false})
	h.settle(t)

	assert.Equal(t, capture.Valid, h.store.Captures(kind)[0].Valid, "second result is ignored")
	assert.Equal(t, StateConfirmed, h.ctrl.View().State)
}

func TestControllerThrottleScenario(t *testing.T) {
	h := newHarness(t, capture.FrontDocumentSession("passport"), nil, nil)
	h.start(t)
	kind := capture.KindDocumentFront
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, h.ctrl.SelectFile(ctx, pngFile(t, fmt.Sprintf("front-%d.png", i))))
	}
	h.settle(t)

	assert.Len(t, h.channel.Sent(), 3, "the fourth capture is not sent")
	assert.Len(t, h.store.Captures(kind), 3, "the fourth capture is not stored")
	_, err := h.store.Get("id-4")
	assert.ErrorIs(t, err, capture.ErrNotFound)
	assert.Equal(t, StateThrottled, h.ctrl.View().State)

	h.channel.Deliver(protocol.ValidationResult{ID: "id-1", Valid: false})
	require.NoError(t, h.ctrl.SelectFile(ctx, pngFile(t, "front-5.png")))
	h.settle(t)

	assert.Len(t, h.channel.Sent(), 4)
	c, err := h.store.Get("id-5")
	require.NoError(t, err)
	assert.Equal(t, capture.Unknown, c.Valid)
	assert.Len(t, h.store.Captures(kind).Pending(), 3)
	assert.Equal(t, StateAwaitingValidation, h.ctrl.View().State)
}

func TestControllerInvalidFileType(t *testing.T) {
	h := newHarness(t, capture.FrontDocumentSession(""), nil, nil)
	h.start(t)

	gif := capture.File{Name: "scan.gif", Data: []byte("GIF89a")}
	require.NoError(t, h.ctrl.SelectFile(context.Background(), gif))
	h.settle(t)

	view := h.ctrl.View()
	assert.Equal(t, StateError, view.State)
	assert.Equal(t, capture.ReasonInvalidType, view.Error)
	assert.Empty(t, h.store.Captures(capture.KindDocumentFront))
	assert.Empty(t, h.channel.Sent())
}

func TestControllerCorruptPNG(t *testing.T) {
	h := newHarness(t, capture.FrontDocumentSession(""), nil, nil)
	h.start(t)

	data := []byte("\x89PNG\r\n\x1a\n definitely not an image")
	require.NoError(t, h.ctrl.SelectFile(context.Background(), capture.File{Name: "scan.png", Data: data}))
	h.settle(t)

	caps := h.store.Captures(capture.KindDocumentFront)
	require.Len(t, caps, 1)
	assert.Empty(t, caps[0].ImageLossy)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), caps[0].Image)
	require.NotNil(t, caps[0].File)
	assert.Equal(t, "scan.png", caps[0].File.Name)

	sent := h.channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, caps[0].Image, sent[0].Image, "the full image is sent without a preview")
}

func TestControllerUploadFallback(t *testing.T) {
	st := store.NewMemoryStore()
	var (
		mu     sync.Mutex
		counts []int
	)
	st.OnChange = func(kind capture.Kind) {
		mu.Lock()
		counts = append(counts, len(st.Captures(kind)))
		mu.Unlock()
	}

	h := newHarness(t, capture.FaceSession(), nil, st)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Screenshot(ctx, frame()))
	require.NoError(t, h.ctrl.Screenshot(ctx, frame()))
	require.NoError(t, h.ctrl.UploadFallback(ctx, pngFile(t, "selfie.png")))
	h.settle(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 0, 1}, counts, "captures are cleared before the file is processed")

	caps := st.Captures(capture.KindFace)
	require.Len(t, caps, 1)
	require.NotNil(t, caps[0].File)
	assert.Equal(t, "selfie.png", caps[0].File.Name)
	assert.False(t, h.ctrl.View().UseCapture)
}

func TestControllerUserMedia(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	probe := capability.NewProbe(false, capability.EnumeratorFunc(func(ctx context.Context) (bool, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return false, nil
	}))

	h := newHarness(t, capture.FaceSession(), probe, nil)
	h.start(t)
	assert.False(t, h.ctrl.View().UseCapture)

	require.NoError(t, h.ctrl.UserMediaStarted(context.Background()))
	h.settle(t)
	assert.True(t, h.ctrl.View().UseCapture)
}

func TestControllerProbeSettles(t *testing.T) {
	h := newHarness(t, capture.FaceSession(), capability.NewProbe(true, capability.Static(false)), nil)
	h.start(t)
	h.waitProbe(t)

	view := h.ctrl.View()
	assert.False(t, view.UseCapture)
	assert.Equal(t, ModeUploading, view.Mode)
}

func TestControllerSessionChange(t *testing.T) {
	h := newHarness(t, capture.FrontDocumentSession("passport"), nil, nil)
	h.start(t)
	ctx := context.Background()

	// Requests complete under the session that was active when they were made.
	require.NoError(t, h.ctrl.SelectFile(ctx, pngFile(t, "front.png")))
	require.NoError(t, h.ctrl.SetSession(ctx, capture.BackDocumentSession("passport")))
	require.NoError(t, h.ctrl.SelectFile(ctx, pngFile(t, "back.png")))
	h.settle(t)

	assert.Equal(t, store.Current{Kind: capture.KindDocumentBack, Side: capture.SideBack}, h.store.Current())
	assert.Equal(t, capture.KindDocumentBack, h.ctrl.View().Kind)

	front := h.store.Captures(capture.KindDocumentFront)
	require.Len(t, front, 1)
	assert.Equal(t, capture.Unknown, front[0].Valid)

	back := h.store.Captures(capture.KindDocumentBack)
	require.Len(t, back, 1)
	assert.Equal(t, capture.Valid, back[0].Valid)

	sent := h.channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, front[0].ID, sent[0].ID)

	// Results for departed sessions still resolve by id.
	require.NoError(t, h.ctrl.SetSession(ctx, capture.FaceSession()))
	h.channel.Deliver(protocol.ValidationResult{ID: sent[0].ID, Valid: true})
	h.settle(t)

	c, err := h.store.Get(sent[0].ID)
	require.NoError(t, err)
	assert.Equal(t, capture.Valid, c.Valid)
}

func TestControllerDeleteCaptures(t *testing.T) {
	h := newHarness(t, capture.FaceSession(), nil, nil)
	h.start(t)
	h.waitProbe(t)

	require.NoError(t, h.ctrl.Screenshot(context.Background(), frame()))
	h.settle(t)
	require.Len(t, h.store.Captures(capture.KindFace), 1)

	require.NoError(t, h.ctrl.DeleteCaptures(context.Background()))
	h.settle(t)
	assert.Empty(t, h.store.Captures(capture.KindFace))
	assert.Equal(t, StateCapturing, h.ctrl.View().State)
}

func TestControllerReleasesSubscription(t *testing.T) {
	h := newHarness(t, capture.FaceSession(), nil, nil)
	h.start(t)
	assert.Equal(t, 1, h.channel.Subscribers())

	var views atomic.Int32
	h.ctrl.OnView(func(View) { views.Add(1) })
	require.NoError(t, h.ctrl.Screenshot(context.Background(), frame()))
	h.settle(t)
	assert.Positive(t, views.Load())

	h.stop()
	assert.Equal(t, 0, h.channel.Subscribers())
	assert.Equal(t, StateIdle, h.ctrl.View().State)
	assert.ErrorIs(t, h.ctrl.Settle(context.Background()), ErrStopped)

	// Late results after teardown do not panic.
	h.channel.Deliver(protocol.ValidationResult{ID: "id-1", Valid: true})
}

func TestControllerRestoresStoredCaptures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captures.db")
	ctx := context.Background()
	kind := capture.KindDocumentFront

	first, err := store.OpenSQLite(ctx, path)
	require.NoError(t, err)
	h := newHarness(t, capture.FrontDocumentSession("passport"), nil, first)
	h.start(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, h.ctrl.SelectFile(ctx, pngFile(t, fmt.Sprintf("front-%d.png", i))))
	}
	h.settle(t)
	h.stop()
	require.NoError(t, first.Close())

	second, err := store.OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	h = newHarness(t, capture.FrontDocumentSession("passport"), nil, second)
	h.start(t)

	view := h.ctrl.View()
	assert.Equal(t, 3, view.Pending)
	assert.Len(t, view.Captures, 3)
	assert.Equal(t, StateAwaitingValidation, view.State)

	// The stored captures still count toward the limit.
	require.NoError(t, h.ctrl.SelectFile(ctx, pngFile(t, "front-4.png")))
	h.settle(t)
	assert.Empty(t, h.channel.Sent())
	assert.Len(t, h.store.Captures(kind), 3)
	assert.Equal(t, StateThrottled, h.ctrl.View().State)

	// A late result for a capture from the earlier run resolves it.
	h.channel.Deliver(protocol.ValidationResult{ID: "id-1", Valid: true})
	h.settle(t)
	c, err := h.store.Get("id-1")
	require.NoError(t, err)
	assert.Equal(t, capture.Valid, c.Valid)
	assert.Equal(t, StateConfirmed, h.ctrl.View().State)
}

func TestControllerSetSessionAfterStop(t *testing.T) {
	h := newHarness(t, capture.FrontDocumentSession("passport"), nil, nil)
	h.start(t)
	h.stop()

	assert.ErrorIs(t, h.ctrl.SetSession(context.Background(), capture.FaceSession()), ErrStopped)
	assert.Equal(t, capture.KindDocumentFront, h.ctrl.Session().Kind(), "a rejected session is not adopted")
	assert.ErrorIs(t, h.ctrl.Screenshot(context.Background(), frame()), ErrStopped)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	live := newHarness(t, capture.FaceSession(), nil, nil)
	assert.ErrorIs(t, live.ctrl.SetSession(ctx, capture.BackDocumentSession("")), context.Canceled)
	assert.Equal(t, capture.KindFace, live.ctrl.Session().Kind())
}
