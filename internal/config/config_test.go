package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Bus.EnforceNameOwners)
	assert.Equal(t, 64, cfg.Bus.BroadcastQueue)
	assert.Equal(t, time.Second, cfg.Bus.PollInterval())
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "a11yd.toml", `
[bus]
enforce_name_owners = false
broadcast_queue = 16

[logging]
level = "debug"
format = "json"

[ipc]
enabled = false
`)

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.False(t, cfg.Bus.EnforceNameOwners)
	assert.Equal(t, 16, cfg.Bus.BroadcastQueue)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.IPC.Enabled)
	// Unset fields keep defaults.
	assert.Equal(t, 1000, cfg.Bus.PollIntervalMs)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "a11yd.yaml", `
bus:
  broadcast_queue: 8
logging:
  level: warn
`)

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Bus.BroadcastQueue)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("A11YD_ENFORCE_NAME_OWNERS", "false")
	t.Setenv("A11YD_LOG_LEVEL", "error")

	cfg, err := NewLoader("").Load()
	require.NoError(t, err)

	assert.False(t, cfg.Bus.EnforceNameOwners)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "a11yd.toml", `
[bus]
broadcast_queue = 32
`)
	t.Setenv("A11YD_BROADCAST_QUEUE", "128")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Bus.BroadcastQueue)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero queue", func(c *Config) { c.Bus.BroadcastQueue = 0 }},
		{"negative poll", func(c *Config) { c.Bus.PollIntervalMs = -1 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"ipc without socket", func(c *Config) {
			c.IPC.Enabled = true
			c.IPC.SocketPath = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := writeConfig(t, "a11yd.ini", "[bus]")
	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}

func TestWatchReload(t *testing.T) {
	path := writeConfig(t, "a11yd.toml", `
[logging]
level = "info"
`)

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	_, err = loader.Watch()
	require.NoError(t, err)
	defer loader.Close()

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("expected reload callback")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
