// Package payload normalizes camera frames and user-selected files into
// capture payloads.
package payload

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/teslashibe/go-idcapture/internal/log"
	"github.com/teslashibe/go-idcapture/pkg/capture"
)

// Allowed upload types.
var (
	AllowedTypes = []string{"jpg", "jpeg", "png", "pdf"}
	RasterTypes  = []string{"jpg", "jpeg", "png"}
)

// Config holds encoder settings.
type Config struct {
	// LossyQuality is the JPEG quality of the lossy encoding (1-100).
	LossyQuality int

	// LossyMaxDimension bounds the longest side of the lossy encoding.
	LossyMaxDimension int
}

// DefaultConfig returns the default encoder settings.
func DefaultConfig() Config {
	return Config{
		LossyQuality:      70,
		LossyMaxDimension: 1440,
	}
}

// Builder converts frames and files into payloads.
type Builder struct {
	cfg    Config
	logger *slog.Logger

	// NewID generates payload ids. Defaults to random UUIDs.
	NewID func() string
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.LossyQuality < 1 || cfg.LossyQuality > 100 {
		cfg.LossyQuality = DefaultConfig().LossyQuality
	}
	if cfg.LossyMaxDimension <= 0 {
		cfg.LossyMaxDimension = DefaultConfig().LossyMaxDimension
	}
	return &Builder{
		cfg:    cfg,
		logger: log.With("component", "payload"),
		NewID:  func() string { return uuid.New().String() },
	}
}

// FromScreenshot encodes a frame as a lossless PNG image plus a lossy JPEG
// preview of the same frame.
func (b *Builder) FromScreenshot(frame image.Image, kind capture.Kind) (capture.Payload, error) {
	if frame == nil || frame.Bounds().Empty() {
		return capture.Payload{}, &capture.BuildError{Op: "frame", Err: capture.ErrEmptyFrame}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return capture.Payload{}, &capture.BuildError{Op: "encode", Err: fmt.Errorf("%w: %v", capture.ErrInvalidCapture, err)}
	}
	p := capture.Payload{
		ID:    b.NewID(),
		Kind:  kind,
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}

	lossy, err := b.lossy(frame)
	if err != nil {
		b.logger.Warn("lossy encoding failed", "error", err)
	} else {
		p.ImageLossy = lossy
	}
	return p, nil
}

// FromFile validates the file type and encodes the file. Raster files also
// get a lossy preview; a preview that cannot be derived is left empty.
func (b *Builder) FromFile(ctx context.Context, f capture.File, kind capture.Kind) (capture.Payload, error) {
	if !f.IsOfType(AllowedTypes...) {
		return capture.Payload{}, &capture.BuildError{Op: "type", File: f.Name, Err: capture.ErrInvalidFileType}
	}
	if err := ctx.Err(); err != nil {
		return capture.Payload{}, err
	}
	if len(f.Data) == 0 {
		return capture.Payload{}, &capture.BuildError{Op: "read", File: f.Name, Err: capture.ErrInvalidCapture}
	}

	file := f
	if file.Size == 0 {
		file.Size = int64(len(f.Data))
	}
	p := capture.Payload{
		ID:    b.NewID(),
		Kind:  kind,
		Image: base64.StdEncoding.EncodeToString(f.Data),
		File:  &file,
	}

	if f.IsOfType(RasterTypes...) {
		// Only raster uploads are re-encoded; PDFs go through untouched.
		img, _, err := image.Decode(bytes.NewReader(f.Data))
		if err != nil {
			b.logger.Warn("lossy preview unavailable", "file", f.Name, "error", err)
			return p, nil
		}
		lossy, err := b.lossy(img)
		if err != nil {
			b.logger.Warn("lossy preview unavailable", "file", f.Name, "error", err)
			return p, nil
		}
		p.ImageLossy = lossy
		return p, nil
	}

	if f.IsOfType("pdf") {
		if n, err := PageCount(f.Data); err != nil {
			b.logger.Debug("pdf page count unavailable", "file", f.Name, "error", err)
		} else {
			p.Pages = n
		}
	}
	return p, nil
}

// lossy returns a base64 JPEG of img scaled to fit LossyMaxDimension.
func (b *Builder) lossy(img image.Image) (string, error) {
	img = fit(img, b.cfg.LossyMaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.cfg.LossyQuality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// fit downsizes img so that neither side exceeds limit. Smaller images are
// returned as is.
func fit(img image.Image, limit int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= limit && h <= limit {
		return img
	}

	if w >= h {
		h = h * limit / w
		w = limit
	} else {
		w = w * limit / h
		h = limit
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}
