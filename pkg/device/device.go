// Package device talks to local cameras through OpenCV. It answers the
// capability probe and grabs frames for screenshots.
package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-idcapture/internal/log"
)

var (
	// ErrNotOpened is returned when a camera index cannot be opened.
	ErrNotOpened = errors.New("device: camera not opened")

	// ErrNoFrame is returned when the camera produced an empty frame.
	ErrNoFrame = errors.New("device: no frame")
)

// Enumerator looks for a camera among the first Indices device indices.
type Enumerator struct {
	Indices int
}

// HasCamera reports whether any probed index opens. Cameras are released
// immediately.
func (e Enumerator) HasCamera(ctx context.Context) (bool, error) {
	n := e.Indices
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		vc, err := gocv.OpenVideoCapture(i)
		if err != nil {
			continue
		}
		opened := vc.IsOpened()
		vc.Close()
		if opened {
			log.Debug("camera found", "index", i)
			return true, nil
		}
	}
	return false, nil
}

// Config selects and sizes a camera.
type Config struct {
	Index  int `json:"index"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Camera grabs single frames from an opened device.
type Camera struct {
	vc  *gocv.VideoCapture
	cfg Config
	mu  sync.Mutex // Protects vc
}

// Open opens the camera at cfg.Index.
func Open(cfg Config) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("%w: index %d: %v", ErrNotOpened, cfg.Index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: index %d", ErrNotOpened, cfg.Index)
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	return &Camera{vc: vc, cfg: cfg}, nil
}

// Snapshot reads one frame.
func (c *Camera) Snapshot() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		return nil, ErrNoFrame
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("device: convert frame: %w", err)
	}
	return img, nil
}

// Close releases the camera.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vc.Close()
}

// Decode decodes an encoded still (JPEG, PNG, WebP, BMP and the other
// formats OpenCV reads) into an image.
func Decode(data []byte) (image.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("device: decode: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, ErrNoFrame
	}
	return mat.ToImage()
}
