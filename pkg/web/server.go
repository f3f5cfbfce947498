// Package web exposes the capture controller over HTTP and pushes view
// updates to websocket subscribers.
package web

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-idcapture/internal/log"
	"github.com/teslashibe/go-idcapture/pkg/capture"
	"github.com/teslashibe/go-idcapture/pkg/hub"
	"github.com/teslashibe/go-idcapture/pkg/orchestrator"
)

// bodyLimit bounds uploaded files and screenshots.
const bodyLimit = 20 * 1024 * 1024

// Controller is the capture controller driven by the HTTP surface.
type Controller interface {
	View() orchestrator.View
	OnView(fn func(orchestrator.View))
	Session() capture.Session
	SetSession(ctx context.Context, s capture.Session) error
	Screenshot(ctx context.Context, frame image.Image) error
	SelectFile(ctx context.Context, f capture.File) error
	UploadFallback(ctx context.Context, f capture.File) error
	UserMediaStarted(ctx context.Context) error
	DeleteCaptures(ctx context.Context) error
	Settle(ctx context.Context) error
}

// CaptureReader reads stored captures.
type CaptureReader interface {
	Captures(kind capture.Kind) capture.List
}

// Server is the capture HTTP server.
type Server struct {
	app    *fiber.App
	addr   string
	ctrl   Controller
	store  CaptureReader
	views  *hub.Hub
	logger *slog.Logger

	// Decode turns a posted screenshot into a frame. Defaults to the
	// standard library decoders (PNG, JPEG).
	Decode func(data []byte) (image.Image, error)

	// OnCaptureFrame grabs a frame from a local camera.
	OnCaptureFrame func() (image.Image, error)
}

// NewServer creates a server bound to addr.
func NewServer(addr string, ctrl Controller, store CaptureReader) *Server {
	s := &Server{
		addr:   addr,
		ctrl:   ctrl,
		store:  store,
		views:  hub.New("view"),
		logger: log.With("component", "web"),
		Decode: decodeStd,
	}

	app := fiber.New(fiber.Config{
		AppName:               "idcapture",
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/view", s.handleView)
	api.Get("/session", s.handleGetSession)
	api.Put("/session", s.handlePutSession)
	api.Get("/captures/:kind", s.handleCaptures)
	api.Delete("/captures", s.handleDeleteCaptures)
	api.Post("/screenshot", s.handleScreenshot)
	api.Post("/files", s.handleFile)
	api.Post("/fallback", s.handleFallback)
	api.Post("/user-media", s.handleUserMedia)
	api.Post("/camera/snapshot", s.handleCameraSnapshot)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/view", websocket.New(s.handleViewWS))

	ctrl.OnView(func(v orchestrator.View) {
		if err := s.views.Publish(v); err != nil {
			s.logger.Error("view broadcast failed", "error", err)
		}
	})

	s.app = app
	return s
}

// Start runs the view hub and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.views.Run(ctx)
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error("shutdown failed", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Views returns the hub view updates are broadcast on.
func (s *Server) Views() *hub.Hub {
	return s.views
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func decodeStd(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
