// Package config provides configuration for go-idcapture commands.
// Values come from defaults, an optional YAML file, then environment
// variables, with the later source winning.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-idcapture/pkg/capture"
)

// Defaults.
const (
	DefaultListenAddr        = ":8080"
	DefaultMaxUnvalidated    = 3
	DefaultLossyQuality      = 70
	DefaultLossyMaxDimension = 1440
	DefaultProbeDevices      = 4
	DefaultLogLevel          = "info"
)

// Config holds all go-idcapture settings.
type Config struct {
	// ListenAddr is the address of the HTTP/WebSocket surface.
	ListenAddr string `yaml:"listen_addr"`

	// ValidatorURL is the websocket URL of the remote validator.
	// Empty means front-document captures are only recorded locally.
	ValidatorURL string `yaml:"validator_url"`

	// StorePath is the SQLite database holding captures. Empty keeps
	// captures in memory.
	StorePath string `yaml:"store_path"`

	// MaxUnvalidated caps unresolved captures per kind.
	MaxUnvalidated int `yaml:"max_unvalidated"`

	// LossyQuality is the JPEG quality (1-100) of lossy previews.
	LossyQuality int `yaml:"lossy_quality"`

	// LossyMaxDimension bounds the longest side of lossy previews in pixels.
	LossyMaxDimension int `yaml:"lossy_max_dimension"`

	// CameraIndex is the device used for snapshots.
	CameraIndex int `yaml:"camera_index"`

	// ProbeDevices is how many device indices the camera probe tries.
	ProbeDevices int `yaml:"probe_devices"`

	// LiveDisplay reports whether the host can present a live preview.
	LiveDisplay bool `yaml:"live_display"`

	// Session is the capture screen opened at startup.
	Session capture.Session `yaml:"session"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ListenAddr:        DefaultListenAddr,
		MaxUnvalidated:    DefaultMaxUnvalidated,
		LossyQuality:      DefaultLossyQuality,
		LossyMaxDimension: DefaultLossyMaxDimension,
		ProbeDevices:      DefaultProbeDevices,
		LiveDisplay:       true,
		Session:           capture.FrontDocumentSession(""),
		LogLevel:          DefaultLogLevel,
	}
}

// Load reads path (if non-empty and present) over the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if errs := cfg.Validate(); len(errs) > 0 {
		return cfg, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("IDCAPTURE_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("IDCAPTURE_VALIDATOR_URL"); v != "" {
		cfg.ValidatorURL = v
	}
	if v := os.Getenv("IDCAPTURE_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	envInt("IDCAPTURE_MAX_UNVALIDATED", &cfg.MaxUnvalidated)
	envInt("IDCAPTURE_LOSSY_QUALITY", &cfg.LossyQuality)
	envInt("IDCAPTURE_LOSSY_MAX_DIMENSION", &cfg.LossyMaxDimension)
	envInt("IDCAPTURE_CAMERA_INDEX", &cfg.CameraIndex)
	envInt("IDCAPTURE_PROBE_DEVICES", &cfg.ProbeDevices)
	if v := os.Getenv("IDCAPTURE_LIVE_DISPLAY"); v != "" {
		cfg.LiveDisplay = v != "false" && v != "0"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errs []string

	if c.MaxUnvalidated < 1 {
		errs = append(errs, "max_unvalidated must be at least 1")
	}
	if c.LossyQuality < 1 || c.LossyQuality > 100 {
		errs = append(errs, "lossy_quality must be between 1 and 100")
	}
	if c.LossyMaxDimension < 64 {
		errs = append(errs, "lossy_max_dimension must be at least 64")
	}
	if c.CameraIndex < 0 {
		errs = append(errs, "camera_index must not be negative")
	}
	if c.ProbeDevices < 1 {
		errs = append(errs, "probe_devices must be at least 1")
	}
	if err := c.Session.Validate(); err != nil {
		errs = append(errs, "session: "+err.Error())
	}
	if c.ValidatorURL != "" && !strings.HasPrefix(c.ValidatorURL, "ws://") && !strings.HasPrefix(c.ValidatorURL, "wss://") {
		errs = append(errs, "validator_url must be a ws:// or wss:// URL")
	}

	return errs
}
