package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, "detected_fires", cfg.Storage.Dir)
	assert.Equal(t, "0", cfg.Camera.Device)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
model:
  path: models/fire.onnx
  names: [fire, smoke]
storage:
  dir: out
  maxAge: 1h
  maxFiles: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "models/fire.onnx", cfg.Model.Path)
	assert.Equal(t, []string{"fire", "smoke"}, cfg.Model.Names)
	assert.Equal(t, time.Hour, cfg.Storage.MaxAge)
	assert.Equal(t, 10, cfg.Storage.MaxFiles)
	// untouched keys keep their defaults
	assert.Equal(t, int64(1), cfg.Camera.MaxStreams)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"ADDR", ":9000")
	t.Setenv(EnvPrefix+"MAX_STREAMS", "3")
	t.Setenv(EnvPrefix+"USE_GPU", "true")
	t.Setenv(EnvPrefix+"MAX_AGE", "90m")
	t.Setenv(EnvPrefix+"MONITOR_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, int64(3), cfg.Camera.MaxStreams)
	assert.True(t, cfg.Model.UseGPU)
	assert.Equal(t, 90*time.Minute, cfg.Storage.MaxAge)
	assert.Equal(t, 50053, cfg.Monitor.Port)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: ["))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty model":       func(c *Config) { c.Model.Path = "" },
		"empty dir":         func(c *Config) { c.Storage.Dir = "" },
		"zero streams":      func(c *Config) { c.Camera.MaxStreams = 0 },
		"negative age":      func(c *Config) { c.Storage.MaxAge = -time.Second },
		"no sweep interval": func(c *Config) { c.Storage.SweepInterval = 0 },
		"registry no host":  func(c *Config) { c.Registry.Enable = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
