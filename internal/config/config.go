// Package config reads queuectl configuration from environment variables
// using caarlos0/env/v11, then overlays the persistent settings file edited
// by `queuectl config set`. Environment variables win over the settings file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// ── Storage ──────────────────────────────────────────────────────────────────
	DataDir string `env:"QUEUECTL_DATA_DIR" envDefault:"./data"`
	// Store selects the job store: "sqlite" (durable) or "memory" (lost on exit).
	Store string `env:"QUEUECTL_STORE" envDefault:"sqlite"`

	// ── Workers ──────────────────────────────────────────────────────────────────
	Workers      int           `env:"QUEUECTL_WORKERS"       envDefault:"1"`
	PollInterval time.Duration `env:"QUEUECTL_POLL_INTERVAL" envDefault:"500ms"`
	// BackoffUnit is the base of the retry delay: unit * 2^attempts.
	BackoffUnit time.Duration `env:"QUEUECTL_BACKOFF_UNIT" envDefault:"1s"`
	MaxRetries  int           `env:"QUEUECTL_MAX_RETRIES"  envDefault:"3"`

	// ── HTTP API ─────────────────────────────────────────────────────────────────
	ListenAddr         string        `env:"QUEUECTL_LISTEN_ADDR"           envDefault:":8080"`
	ShutdownTimeout    time.Duration `env:"QUEUECTL_SHUTDOWN_TIMEOUT"      envDefault:"30s"`
	RateLimitPerMinute int           `env:"QUEUECTL_RATE_LIMIT_PER_MINUTE" envDefault:"600"`
	RateLimitBurst     int           `env:"QUEUECTL_RATE_LIMIT_BURST"      envDefault:"50"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses Config from the environment and applies the settings file
// found in the data directory.
func Load() (*Config, error) {
	cfg, err := LoadEnv()
	if err != nil {
		return nil, err
	}

	settings, err := LoadSettings(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}
	if err := settings.Apply(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv parses Config from environment variables only, without the
// settings file or validation.
func LoadEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the worker pool cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Store != StoreSQLite && c.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("QUEUECTL_STORE must be %q or %q, got %q", StoreSQLite, StoreMemory, c.Store))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("QUEUECTL_WORKERS must be at least 1, got %d", c.Workers))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.BackoffUnit <= 0 {
		errs = append(errs, fmt.Errorf("backoff unit must be positive, got %s", c.BackoffUnit))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries))
	}
	return errors.Join(errs...)
}

// DBPath is the SQLite database file
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "queue.db")
}

// SettingsPath is the persistent key/value settings file
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.json")
}

// WorkerStatusPath is written by a running `queuectl worker start`
func (c *Config) WorkerStatusPath() string {
	return filepath.Join(c.DataDir, "worker.status")
}

// EnsureDataDir creates the data directory if needed
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	return nil
}

// NewLogger creates a slog.Logger based on the configured log level and format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
