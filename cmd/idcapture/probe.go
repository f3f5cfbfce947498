package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-idcapture/internal/config"
	"github.com/teslashibe/go-idcapture/internal/log"
	"github.com/teslashibe/go-idcapture/pkg/capability"
	"github.com/teslashibe/go-idcapture/pkg/device"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check whether a camera is available",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(cfg.LogLevel)

		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()

		probe := capability.NewProbe(cfg.LiveDisplay, device.Enumerator{Indices: cfg.ProbeDevices})
		probe.Probe(ctx)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			capability.Snapshot
			QuickGuess bool `json:"quick_guess"`
		}{probe.Snapshot(), probe.QuickGuess()})
	},
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "give up enumerating after this long")
}
