package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-idcapture/internal/config"
	"github.com/teslashibe/go-idcapture/internal/log"
	"github.com/teslashibe/go-idcapture/pkg/capability"
	"github.com/teslashibe/go-idcapture/pkg/device"
	"github.com/teslashibe/go-idcapture/pkg/orchestrator"
	"github.com/teslashibe/go-idcapture/pkg/payload"
	"github.com/teslashibe/go-idcapture/pkg/store"
	"github.com/teslashibe/go-idcapture/pkg/validation"
	"github.com/teslashibe/go-idcapture/pkg/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(cfg.LogLevel)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg config.Config) error {
	channel, closeChannel, err := openChannel(ctx, cfg.ValidatorURL)
	if err != nil {
		return err
	}
	defer closeChannel()

	st, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return err
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}
	probe := capability.NewProbe(cfg.LiveDisplay, device.Enumerator{Indices: cfg.ProbeDevices})
	builder := payload.NewBuilder(payload.Config{
		LossyQuality:      cfg.LossyQuality,
		LossyMaxDimension: cfg.LossyMaxDimension,
	})

	ctrl := orchestrator.NewController(cfg.Session, orchestrator.Options{
		MaxUnvalidated: cfg.MaxUnvalidated,
		LiveDisplay:    cfg.LiveDisplay,
	}, st, channel, builder, probe)

	cam := &lazyCamera{cfg: device.Config{Index: cfg.CameraIndex}}
	defer cam.Close()

	srv := web.NewServer(cfg.ListenAddr, ctrl, st)
	srv.Decode = device.Decode
	srv.OnCaptureFrame = cam.Snapshot

	errc := make(chan error, 1)
	go func() { errc <- ctrl.Run(ctx) }()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return <-errc
}

// openChannel dials the validator, or falls back to a loopback channel
// when no validator is configured.
func openChannel(ctx context.Context, url string) (validation.Channel, func(), error) {
	if url == "" {
		log.Warn("no validator configured, front document captures stay unvalidated")
		lb := validation.NewLoopback()
		return lb, func() { lb.Close() }, nil
	}

	ws, err := validation.Dial(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	go func() {
		select {
		case <-ws.Done():
			log.Error("validator connection lost", "url", url)
		case <-ctx.Done():
		}
	}()
	return ws, func() { ws.Close() }, nil
}

// lazyCamera opens the local camera on first use.
type lazyCamera struct {
	cfg device.Config

	mu  sync.Mutex
	cam *device.Camera
}

func (l *lazyCamera) Snapshot() (image.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cam == nil {
		cam, err := device.Open(l.cfg)
		if err != nil {
			return nil, err
		}
		l.cam = cam
	}
	return l.cam.Snapshot()
}

func (l *lazyCamera) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cam != nil {
		l.cam.Close()
		l.cam = nil
	}
}
