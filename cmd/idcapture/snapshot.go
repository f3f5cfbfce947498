package main

import (
	"fmt"
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-idcapture/internal/config"
	"github.com/teslashibe/go-idcapture/internal/log"
	"github.com/teslashibe/go-idcapture/pkg/capture"
	"github.com/teslashibe/go-idcapture/pkg/device"
	"github.com/teslashibe/go-idcapture/pkg/payload"
)

var (
	snapshotOut  string
	snapshotKind string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Grab one frame from the local camera and build a capture payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(cfg.LogLevel)

		kind, err := capture.ParseKind(snapshotKind)
		if err != nil {
			return fmt.Errorf("%w: %s", err, snapshotKind)
		}

		cam, err := device.Open(device.Config{Index: cfg.CameraIndex})
		if err != nil {
			return err
		}
		defer cam.Close()

		frame, err := cam.Snapshot()
		if err != nil {
			return err
		}

		b := payload.NewBuilder(payload.Config{
			LossyQuality:      cfg.LossyQuality,
			LossyMaxDimension: cfg.LossyMaxDimension,
		})
		p, err := b.FromScreenshot(frame, kind)
		if err != nil {
			return err
		}

		if snapshotOut != "" {
			f, err := os.Create(snapshotOut)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := png.Encode(f, frame); err != nil {
				return err
			}
		}

		fmt.Printf("id=%s kind=%s image=%dB lossy=%dB\n", p.ID, p.Kind, len(p.Image), len(p.ImageLossy))
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "also write the frame as PNG to this path")
	snapshotCmd.Flags().StringVar(&snapshotKind, "kind", string(capture.KindFace), "capture kind (document-front, document-back, face)")
}
