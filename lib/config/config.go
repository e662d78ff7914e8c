// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Meridian
// components.
//
// Configuration is loaded from a single file passed explicitly (the
// --config flag). There are no fallbacks or automatic discovery; what
// you pass is what runs. Files ending in .json or .jsonc are parsed as
// JSON with comments, everything else as YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration.
type Config struct {
	// Listen configures the gateway's listeners.
	Listen ListenConfig `yaml:"listen"`

	// Storage configures record retention storage.
	Storage StorageConfig `yaml:"storage"`

	// Live configures live-view sessions.
	Live LiveConfig `yaml:"live"`

	// LogLevel sets the minimum log level: debug, info, warn, error.
	// Default: info.
	LogLevel string `yaml:"log_level"`
}

// ListenConfig configures the gateway's listeners.
type ListenConfig struct {
	// SocketPath is the Unix socket the gateway serves on.
	// Default: /run/meridian/gateway.sock
	SocketPath string `yaml:"socket_path"`

	// TCPAddress, when non-empty, adds a TCP listener serving the
	// same actions (host:port). Default: disabled.
	TCPAddress string `yaml:"tcp_address"`
}

// StorageConfig configures record retention storage.
type StorageConfig struct {
	// DatabasePath is the SQLite database file.
	// Default: /var/lib/meridian/records.db
	DatabasePath string `yaml:"database_path"`

	// PoolSize is the number of pooled SQLite connections.
	// Default: 4.
	PoolSize int `yaml:"pool_size"`

	// Retention is how long records are kept before the sweep
	// deletes them. Default: 168h (seven days).
	Retention Duration `yaml:"retention"`

	// SweepInterval is how often the retention sweep runs.
	// Default: 1h.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// LiveConfig configures live-view sessions.
type LiveConfig struct {
	// ReportingInterval is the cadence at which per-session counters
	// are snapshotted, logged, and reset. Default: 1m.
	ReportingInterval Duration `yaml:"reporting_interval"`

	// SessionBuffer is the per-session fan-out queue depth. A
	// session that falls this many records behind starts dropping.
	// Default: 256.
	SessionBuffer int `yaml:"session_buffer"`
}

// Duration is a time.Duration that unmarshals from a Go duration
// string ("90s", "1h30m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Value returns the duration as a time.Duration.
func (d Duration) Value() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			SocketPath: "/run/meridian/gateway.sock",
		},
		Storage: StorageConfig{
			DatabasePath:  "/var/lib/meridian/records.db",
			PoolSize:      4,
			Retention:     Duration(7 * 24 * time.Hour),
			SweepInterval: Duration(time.Hour),
		},
		Live: LiveConfig{
			ReportingInterval: Duration(time.Minute),
			SessionBuffer:     256,
		},
		LogLevel: "info",
	}
}

// Load reads the configuration file at path, applies defaults for
// unset fields, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// JSON is a YAML subset, so stripping comments and decoding
	// through the YAML parser handles both syntaxes.
	switch filepath.Ext(path) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Listen.SocketPath == "" {
		c.Listen.SocketPath = defaults.Listen.SocketPath
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = defaults.Storage.DatabasePath
	}
	if c.Storage.PoolSize == 0 {
		c.Storage.PoolSize = defaults.Storage.PoolSize
	}
	if c.Storage.Retention == 0 {
		c.Storage.Retention = defaults.Storage.Retention
	}
	if c.Storage.SweepInterval == 0 {
		c.Storage.SweepInterval = defaults.Storage.SweepInterval
	}
	if c.Live.ReportingInterval == 0 {
		c.Live.ReportingInterval = defaults.Live.ReportingInterval
	}
	if c.Live.SessionBuffer == 0 {
		c.Live.SessionBuffer = defaults.Live.SessionBuffer
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Storage.PoolSize < 1 {
		return fmt.Errorf("storage.pool_size must be at least 1, got %d", c.Storage.PoolSize)
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}
	if c.Live.SessionBuffer < 1 {
		return fmt.Errorf("live.session_buffer must be at least 1, got %d", c.Live.SessionBuffer)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel converts a config log level string to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}
