package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "flockwatch-aggregator", cfg.NATS.Name)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "flockwatch", cfg.Redis.KeyPrefix)

	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.Timeout)

	assert.Equal(t, 500*time.Millisecond, cfg.Command.ResyncDelay)

	assert.Equal(t, 0.7, cfg.Correlation.FPThreshold)
	assert.Empty(t, cfg.Correlation.Profile)
	assert.Equal(t, 0.7, cfg.Filter.FPThreshold)

	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  addr: ":9090"
  read_timeout: 30s

nats:
  url: nats://detector:4222
  name: bench-aggregator

redis:
  enabled: false
  addr: detector:6379
  key_prefix: bench

reconcile:
  interval: 10s

command:
  resync_delay: 250ms

correlation:
  fp_threshold: 0.5
  profile: /etc/flockwatch/windows.yaml

logging:
  level: debug
`

	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	// Unset keys keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)

	assert.Equal(t, "nats://detector:4222", cfg.NATS.URL)
	assert.Equal(t, "bench-aggregator", cfg.NATS.Name)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "bench", cfg.Redis.KeyPrefix)

	assert.Equal(t, 10*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 250*time.Millisecond, cfg.Command.ResyncDelay)
	assert.Equal(t, 0.5, cfg.Correlation.FPThreshold)
	assert.Equal(t, "/etc/flockwatch/windows.yaml", cfg.Correlation.Profile)

	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FLOCKWATCH_NATS_URL", "nats://override:4222")
	t.Setenv("FLOCKWATCH_LOGGING_LEVEL", "error")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestConfig_LogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		cfg := &Config{Logging: LoggingConfig{Level: tt.level}}
		assert.Equal(t, tt.want, cfg.LogLevel(), "level %q", tt.level)
	}
}
