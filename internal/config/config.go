// Package config handles configuration loading and validation for a11yd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Bus configuration for the session-bus facing services.
	Bus BusConfig `toml:"bus" json:"bus" yaml:"bus"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the local control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// BusConfig holds settings for the name-ownership registry and the
// keyboard-monitor service.
type BusConfig struct {
	// EnforceNameOwners controls whether CheckOwner verifies callers
	// against the live name-ownership registry. When false the registry
	// is permissive and never drains the ownership stream.
	EnforceNameOwners bool `toml:"enforce_name_owners" json:"enforce_name_owners" yaml:"enforce_name_owners" env:"A11YD_ENFORCE_NAME_OWNERS"`

	// BroadcastQueue is the capacity of the bounded key-event queue
	// between the input path and the signal dispatcher. Events beyond
	// capacity are dropped.
	BroadcastQueue int `toml:"broadcast_queue" json:"broadcast_queue" yaml:"broadcast_queue" env:"A11YD_BROADCAST_QUEUE"`

	// PollIntervalMs is how often the registry's background task drains
	// the ownership-change stream, in milliseconds.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms" env:"A11YD_POLL_INTERVAL_MS"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level" env:"A11YD_LOG_LEVEL"`

	// Format is the output format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format" env:"A11YD_LOG_FORMAT"`

	// Output is where logs are written: "stdout" or "stderr".
	Output string `toml:"output" json:"output" yaml:"output" env:"A11YD_LOG_OUTPUT"`
}

// IPCConfig holds the control-socket configuration.
type IPCConfig struct {
	// Enabled controls whether the control socket is served.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"A11YD_IPC_ENABLED"`

	// SocketPath is the Unix socket path for a11yctl.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path" env:"A11YD_SOCKET"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			EnforceNameOwners: true,
			BroadcastQueue:    64,
			PollIntervalMs:    1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		IPC: IPCConfig{
			Enabled:    true,
			SocketPath: defaultSocketPath(),
		},
	}
}

// defaultSocketPath returns the runtime-dir control socket path.
func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		home, _ := os.UserHomeDir()
		runtimeDir = filepath.Join(home, ".a11yd")
	}
	return filepath.Join(runtimeDir, "a11yd.sock")
}

// PollInterval returns the registry drain interval as a duration.
func (b BusConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}

// ApplyEnvOverrides overlays environment variables onto the config.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Bus.BroadcastQueue <= 0 {
		return errors.New("bus.broadcast_queue must be positive")
	}
	if c.Bus.PollIntervalMs <= 0 {
		return errors.New("bus.poll_interval_ms must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json", "":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	if c.IPC.Enabled && c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must be set when ipc is enabled")
	}
	return nil
}
