// Package config provides configuration loading for memoryd.
//
// Configuration is loaded from a YAML file, then overridden by MEMORYD_
// environment variables. Every section has working defaults, so a bare
// `memoryd` with no file and no environment starts a usable daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete memoryd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Engine    EngineConfig    `koanf:"engine"`
	Sweep     SweepConfig     `koanf:"sweep"`
	Events    EventsConfig    `koanf:"events"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	MCP       MCPConfig       `koanf:"mcp"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ReadTimeout     Duration `koanf:"read_timeout"`
	WriteTimeout    Duration `koanf:"write_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds record store configuration.
type StoreConfig struct {
	// Provider selects the implementation: "sqlite" (default) or "memory".
	Provider string `koanf:"provider"`

	// Path is the SQLite database file. Ignored by the memory provider.
	Path string `koanf:"path"`
}

// EngineConfig holds the memory engine tuning knobs.
type EngineConfig struct {
	// DefaultTTLDays is the sliding expiry window for ephemeral writes.
	DefaultTTLDays int `koanf:"default_ttl_days"`

	// DecayAfterDays is how long a hypothesis may sit untouched before a
	// decay sweep ages it one confidence step.
	DecayAfterDays int `koanf:"decay_after_days"`

	// SummaryRecentLimit caps recent observations in a subject summary.
	SummaryRecentLimit int `koanf:"summary_recent_limit"`
}

// SweepConfig holds background sweep scheduling.
type SweepConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Interval Duration `koanf:"interval"`

	// Jitter is a random delay added before each cycle so multiple
	// daemons sharing a store do not sweep in lockstep.
	Jitter Duration `koanf:"jitter"`
}

// EventsConfig holds NATS change-notification configuration.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// SubjectPrefix is prepended to every published subject.
	SubjectPrefix string `koanf:"subject_prefix"`

	// Token authenticates against a token-protected server. Optional.
	Token Secret `koanf:"token"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`

	// RedactFields are additional field names to redact beyond the
	// built-in learner-content set.
	RedactFields []string `koanf:"redact_fields"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`

	// Endpoint is the OTLP collector address, host:port.
	Endpoint string `koanf:"endpoint"`

	// Protocol is "grpc" (default) or "http/protobuf".
	Protocol string `koanf:"protocol"`

	Insecure       bool     `koanf:"insecure"`
	SampleRatio    float64  `koanf:"sample_ratio"`
	MetricInterval Duration `koanf:"metric_interval"`
}

// MCPConfig holds Model Context Protocol server configuration.
type MCPConfig struct {
	Enabled bool `koanf:"enabled"`
}

// DefaultConfig returns the configuration memoryd runs with when nothing
// overrides it.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9180
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = Duration(30 * time.Second)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Store defaults
	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath()
	}

	// Engine defaults
	if cfg.Engine.DefaultTTLDays == 0 {
		cfg.Engine.DefaultTTLDays = 10
	}
	if cfg.Engine.DecayAfterDays == 0 {
		cfg.Engine.DecayAfterDays = 30
	}
	if cfg.Engine.SummaryRecentLimit == 0 {
		cfg.Engine.SummaryRecentLimit = 5
	}

	// Sweep defaults. Enabled is handled in the loader: koanf cannot
	// tell "false" from "absent", so the loader seeds it true up front.
	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = Duration(10 * time.Minute)
	}
	if cfg.Sweep.Jitter == 0 {
		cfg.Sweep.Jitter = Duration(30 * time.Second)
	}

	// Events defaults
	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "memoryd"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "memoryd"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1.0
	}
	if cfg.Telemetry.MetricInterval == 0 {
		cfg.Telemetry.MetricInterval = Duration(60 * time.Second)
	}
}

// defaultStorePath is the XDG-style database location, with a working-
// directory fallback when no home is available.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "memoryd.db"
	}
	return filepath.Join(home, ".local", "share", "memoryd", "records.db")
}

// Validate validates the configuration, failing fast on bad values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Store.Provider {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid store provider: %q (must be sqlite or memory)", c.Store.Provider)
	}
	if c.Store.Provider == "sqlite" && c.Store.Path == "" {
		return errors.New("store path required for sqlite provider")
	}

	if c.Engine.DefaultTTLDays < 1 {
		return fmt.Errorf("invalid default ttl days: %d (must be at least 1)", c.Engine.DefaultTTLDays)
	}
	if c.Engine.DecayAfterDays < 1 {
		return fmt.Errorf("invalid decay window days: %d (must be at least 1)", c.Engine.DecayAfterDays)
	}
	if c.Engine.SummaryRecentLimit < 1 {
		return fmt.Errorf("invalid summary recent limit: %d (must be at least 1)", c.Engine.SummaryRecentLimit)
	}

	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return errors.New("sweep interval must be positive when sweeps are enabled")
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events url required when events are enabled")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q (must be json or console)", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("invalid telemetry protocol: %q (must be grpc or http/protobuf)", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("invalid sample ratio: %f (must be in [0, 1])", c.Telemetry.SampleRatio)
		}
	}

	return nil
}
