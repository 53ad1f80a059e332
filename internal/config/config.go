// Package config defines process configuration for the orbit client and the
// reference store, and the layered loader that fills it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/orbit/internal/domain/geo"
	"github.com/okian/orbit/internal/domain/orbit"
)

// Config contains process configuration for both binaries. Keys not used by
// a process are ignored by it.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr is the client HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreURL is the base URL of the persistence API.
	StoreURL string `koanf:"store_url"`
	// PushURL is the ws:// or wss:// push channel. Empty disables push and
	// leaves polling as the only source of remote state.
	PushURL string `koanf:"push_url"`

	PollInterval  time.Duration `koanf:"poll_interval"`
	FetchTimeout  time.Duration `koanf:"fetch_timeout"`
	SubmitTimeout time.Duration `koanf:"submit_timeout"`

	// QueueSize bounds the ingest and broadcast queues.
	QueueSize int `koanf:"queue_size"`

	// StatePath is the bbolt file holding the installation id and the last
	// known good working set.
	StatePath string `koanf:"state_path"`

	GeometryVersion string  `koanf:"geometry_version"`
	RingScale       float64 `koanf:"ring_scale"`
	// RandomSeed seeds slot and hue picks; 0 seeds from the clock.
	RandomSeed int64 `koanf:"random_seed"`

	Geofences []geo.Fence `koanf:"geofences"`

	// KioskLatitude and KioskLongitude pin the device position. When both
	// are zero the device has no locator and must send coordinates.
	KioskLatitude  float64 `koanf:"kiosk_latitude"`
	KioskLongitude float64 `koanf:"kiosk_longitude"`

	// Store process.
	StoreAddr   string  `koanf:"store_addr"`
	DBPath      string  `koanf:"db_path"`
	DedupeSize  int     `koanf:"dedupe_size"`
	SubmitRPS   float64 `koanf:"submit_rps"`
	SubmitBurst int     `koanf:"submit_burst"`
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":8080",
		StoreURL:        "http://localhost:9090",
		PushURL:         "ws://localhost:9090/live",
		PollInterval:    10 * time.Second,
		FetchTimeout:    5 * time.Second,
		SubmitTimeout:   10 * time.Second,
		QueueSize:       1024,
		StatePath:       "orbit-state.db",
		GeometryVersion: orbit.DefaultVersion,
		RingScale:       1.0,
		StoreAddr:       ":9090",
		DBPath:          "orbit-store.db",
		DedupeSize:      50_000,
		SubmitRPS:       2,
		SubmitBurst:     4,
	}
}

// HasKioskLocation reports whether a fixed device position is configured.
func (c *Config) HasKioskLocation() bool {
	return c.KioskLatitude != 0 || c.KioskLongitude != 0
}

// Table loads the configured geometry.
func (c *Config) Table() (*orbit.Table, error) {
	t, err := orbit.ByVersion(c.GeometryVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: geometry_version: %w", ErrInvalidConfig, err)
	}
	return t, nil
}

// Fences builds the geofence lookup.
func (c *Config) Fences() (*geo.Fences, error) {
	f, err := geo.NewFences(c.Geofences)
	if err != nil {
		return nil, fmt.Errorf("%w: geofences: %w", ErrInvalidConfig, err)
	}
	return f, nil
}

// Validate checks the fields shared by both processes.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.StoreAddr) == "":
		return fmt.Errorf("%w: store_addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	case c.FetchTimeout <= 0:
		return fmt.Errorf("%w: fetch_timeout must be positive", ErrInvalidConfig)
	case c.SubmitTimeout <= 0:
		return fmt.Errorf("%w: submit_timeout must be positive", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.RingScale <= 0:
		return fmt.Errorf("%w: ring_scale must be positive", ErrInvalidConfig)
	case c.SubmitRPS < 0 || c.SubmitBurst < 0:
		return fmt.Errorf("%w: submit_rps and submit_burst must not be negative", ErrInvalidConfig)
	}
	if _, err := c.Table(); err != nil {
		return err
	}
	if _, err := c.Fences(); err != nil {
		return err
	}
	return nil
}

// ValidateClient additionally checks what the client session needs.
func (c *Config) ValidateClient() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.StoreURL) == "" {
		return fmt.Errorf("%w: store_url must not be empty", ErrInvalidConfig)
	}
	if c.PushURL != "" && !strings.HasPrefix(c.PushURL, "ws://") && !strings.HasPrefix(c.PushURL, "wss://") {
		return fmt.Errorf("%w: push_url %q is not a websocket url", ErrInvalidConfig, c.PushURL)
	}
	return nil
}
