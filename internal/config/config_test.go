// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8042, cfg.Server.Port)
	assert.Equal(t, "./data", cfg.Store.DataDir)
	assert.Equal(t, int64(4), cfg.Pipeline.MaxWorkers)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.ReconcileDelay)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ReconcileStagger)
	assert.Equal(t, "@hourly", cfg.Health.Schedule)
	assert.False(t, cfg.Lyrics.GenerativeEnabled())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_DIR", "/var/lib/stemsync")
	t.Setenv("PIPELINE_MAX_WORKERS", "8")
	t.Setenv("RECONCILE_DELAY", "30s")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_MODEL", "google/gemini-flash")
	t.Setenv("BASE_URL", "https://stems.example.com")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/stemsync", cfg.Store.DataDir)
	assert.Equal(t, int64(8), cfg.Pipeline.MaxWorkers)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.ReconcileDelay)
	assert.True(t, cfg.Lyrics.GenerativeEnabled())
	assert.Equal(t, "https://stems.example.com", cfg.Lyrics.Referer,
		"lyrics referer should default to the base URL")
}

func TestFromEnvStaggerClamp(t *testing.T) {
	t.Setenv("RECONCILE_STAGGER", "100ms")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ReconcileStagger,
		"stagger below the floor should be clamped")
}

func TestFromEnvConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stemsync.yaml")
	content := []byte(`
server:
  port: 7100
  rate_limit_rpm: 30
pipeline:
  max_workers: 2
  reconcile_delay: 1m
log_level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("STEMSYNC_CONFIG", path)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.RateLimitRPM)
	assert.Equal(t, int64(2), cfg.Pipeline.MaxWorkers)
	assert.Equal(t, time.Minute, cfg.Pipeline.ReconcileDelay)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnvFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stemsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7100\n"), 0o600))

	t.Setenv("STEMSYNC_CONFIG", path)
	t.Setenv("PORT", "7200")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 7200, cfg.Server.Port, "environment should win over the config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid port",
		},
		{
			name:    "empty data dir",
			mutate:  func(c *Config) { c.Store.DataDir = "" },
			wantErr: "data directory",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Pipeline.MaxWorkers = 0 },
			wantErr: "worker count",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.ModelHost.PollInterval = 0 },
			wantErr: "poll interval",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromEnvBadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	t.Setenv("STEMSYNC_CONFIG", path)

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}
