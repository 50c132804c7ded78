// Package config loads aggregator configuration from defaults, an optional
// YAML file and FLOCKWATCH_-prefixed environment variables, in that
// precedence order.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the aggregator service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
	Command     CommandConfig     `mapstructure:"command"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Filter      FilterConfig      `mapstructure:"filter"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration. There is deliberately no
// write timeout: it would sever the SSE snapshot stream.
type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// NATSConfig holds detector bus connection settings.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// RedisConfig holds the detection-store read client settings. Disabling it
// turns the reconciliation pull path off; the push path keeps working.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ReconcileConfig holds the pull-path cadence.
type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CommandConfig holds dispatcher tuning.
type CommandConfig struct {
	ResyncDelay time.Duration `mapstructure:"resync_delay"`
}

// CorrelationConfig holds anomaly-suppression settings. Profile points to an
// optional YAML file overriding per-subsystem correlation windows.
type CorrelationConfig struct {
	FPThreshold float64 `mapstructure:"fp_threshold"`
	Profile     string  `mapstructure:"profile"`
}

// FilterConfig holds the initial detection-filter criteria; the API can
// change them at runtime.
type FilterConfig struct {
	FPThreshold float64 `mapstructure:"fp_threshold"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "flockwatch-aggregator")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "flockwatch")

	v.SetDefault("reconcile.interval", "30s")
	v.SetDefault("reconcile.timeout", "5s")

	v.SetDefault("command.resync_delay", "500ms")

	v.SetDefault("correlation.fp_threshold", 0.7)
	v.SetDefault("correlation.profile", "")

	v.SetDefault("filter.fp_threshold", 0.7)

	v.SetDefault("logging.level", "info")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config.
	v.SetEnvPrefix("FLOCKWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LogLevel parses the configured level string.
func (c *Config) LogLevel() slog.Level {
	return ParseLevel(c.Logging.Level)
}

// ParseLevel maps a level name to a slog level. Unknown names fall back to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
