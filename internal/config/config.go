// Package config defines service configuration and its defaults.
//
// Conventions:
// - New returns a Config with defaults; Load layers a file and env on top.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Embedder kinds.
const (
	EmbedderHTTP      = "http"
	EmbedderONNX      = "onnx"
	EmbedderSimulated = "simulated"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// CompanyID is the company whose loop serve starts automatically.
	// Empty means the loop is started through the API.
	CompanyID string `koanf:"company_id"`

	// MatchThreshold is the strict acceptance distance.
	MatchThreshold float64 `koanf:"match_threshold"`

	// CooldownMinutes is the per-employee recording window.
	CooldownMinutes int `koanf:"cooldown_minutes"`

	// PollIntervalMS is the loop cadence.
	PollIntervalMS int `koanf:"poll_interval_ms"`

	// ExtractTimeoutMS bounds frame fetch plus extraction in one tick.
	ExtractTimeoutMS int `koanf:"extract_timeout_ms"`

	// StatusBuffer bounds the status bus.
	StatusBuffer int `koanf:"status_buffer"`

	// StatusHistory is how many recent statuses the service keeps.
	StatusHistory int `koanf:"status_history"`

	StoreDriver       string `koanf:"store_driver"`
	StoreDSN          string `koanf:"store_dsn"`
	StoreMaxOpenConns int    `koanf:"store_max_open_conns"`

	EmbedderKind      string `koanf:"embedder_kind"`
	EmbedderURL       string `koanf:"embedder_url"`
	EmbedderModelPath string `koanf:"embedder_model_path"`
	EmbedderDim       int    `koanf:"embedder_dim"`

	CameraFacing   string  `koanf:"camera_facing"`
	CameraFrontURL string  `koanf:"camera_front_url"`
	CameraBackURL  string  `koanf:"camera_back_url"`
	CameraLockDir  string  `koanf:"camera_lock_dir"`
	CameraMaxFPS   float64 `koanf:"camera_max_fps"`
}

// New creates a Config with defaults. Context is accepted first to follow
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		MatchThreshold:    0.55,
		CooldownMinutes:   20,
		PollIntervalMS:    3000,
		ExtractTimeoutMS:  2000,
		StatusBuffer:      256,
		StatusHistory:     50,
		StoreDriver:       DriverSQLite,
		StoreDSN:          "rollcall.db",
		StoreMaxOpenConns: 10,
		EmbedderKind:      EmbedderHTTP,
		EmbedderURL:       "http://localhost:8000",
		EmbedderDim:       512,
		CameraFacing:      "front",
		CameraLockDir:     os.TempDir(),
		CameraMaxFPS:      5,
	}
}

// Cooldown returns the recording window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// PollInterval returns the loop cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ExtractTimeout returns the per-tick extraction bound.
func (c *Config) ExtractTimeout() time.Duration {
	return time.Duration(c.ExtractTimeoutMS) * time.Millisecond
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.MatchThreshold <= 0:
		return invalid("match_threshold must be positive, got %v", c.MatchThreshold)
	case c.CooldownMinutes < 1:
		return invalid("cooldown_minutes must be at least 1, got %d", c.CooldownMinutes)
	case c.PollIntervalMS <= 0:
		return invalid("poll_interval_ms must be positive, got %d", c.PollIntervalMS)
	case c.ExtractTimeoutMS <= 0:
		return invalid("extract_timeout_ms must be positive, got %d", c.ExtractTimeoutMS)
	case c.StatusBuffer <= 0:
		return invalid("status_buffer must be positive, got %d", c.StatusBuffer)
	case c.StatusHistory < 0:
		return invalid("status_history must not be negative, got %d", c.StatusHistory)
	case c.EmbedderDim <= 0:
		return invalid("embedder_dim must be positive, got %d", c.EmbedderDim)
	case c.CameraMaxFPS <= 0:
		return invalid("camera_max_fps must be positive, got %v", c.CameraMaxFPS)
	case c.CameraFacing != "front" && c.CameraFacing != "back":
		return invalid("camera_facing must be front or back, got %q", c.CameraFacing)
	}

	switch c.StoreDriver {
	case DriverSQLite, DriverPostgres:
		if c.StoreDSN == "" {
			return invalid("store_dsn is required for %s", c.StoreDriver)
		}
		if c.StoreMaxOpenConns <= 0 {
			return invalid("store_max_open_conns must be positive, got %d", c.StoreMaxOpenConns)
		}
	case DriverMemory:
	default:
		return invalid("unknown store_driver %q", c.StoreDriver)
	}

	switch c.EmbedderKind {
	case EmbedderHTTP:
		if c.EmbedderURL == "" {
			return invalid("embedder_url is required for the http embedder")
		}
	case EmbedderONNX:
		if c.EmbedderModelPath == "" {
			return invalid("embedder_model_path is required for the onnx embedder")
		}
	case EmbedderSimulated:
	default:
		return invalid("unknown embedder_kind %q", c.EmbedderKind)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
