// Package daemon holds the process configuration of stampscore.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. STAMPSCORE_API_PORT.
const EnvPrefix = "STAMPSCORE"

// Config is the full configuration, loaded from TOML and then overridden by
// environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	API      APIConfig      `toml:"api"`
	Dedup    DedupConfig    `toml:"dedup"`
	Redis    RedisConfig    `toml:"redis"`
	Rescore  RescoreConfig  `toml:"rescore"`
	Log      LogConfig      `toml:"log"`
	Tracing  TracingConfig  `toml:"tracing"`
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Dir         string `toml:"dir"`
	BusyTimeout string `toml:"busy_timeout" split_words:"true"`
}

// APIConfig configures the ops HTTP server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// DedupConfig selects the fingerprint lease backend.
type DedupConfig struct {
	LockBackend    string `toml:"lock_backend" split_words:"true"` // "local" or "redis"
	LeaseTTL       string `toml:"lease_ttl" split_words:"true"`
	AcquireTimeout string `toml:"acquire_timeout" split_words:"true"`
}

// RedisConfig is used when Dedup.LockBackend is "redis".
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix" split_words:"true"`
}

// RescoreConfig tunes batch rescoring.
type RescoreConfig struct {
	BatchSize      int    `toml:"batch_size" split_words:"true"`
	Workers        int    `toml:"workers"`
	MaxRetries     int    `toml:"max_retries" split_words:"true"`
	InitialBackoff string `toml:"initial_backoff" split_words:"true"`
	MaxBackoff     string `toml:"max_backoff" split_words:"true"`
}

// LogConfig selects the zap mode and level.
type LogConfig struct {
	Mode  string `toml:"mode"` // "dev" or "prod"
	Level string `toml:"level"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	Exporter    string  `toml:"exporter"` // "otlp" or "stdout"
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio" split_words:"true"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Dir:         defaultDataDir(),
			BusyTimeout: "5s",
		},
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8087,
			Metrics: true,
		},
		Dedup: DedupConfig{
			LockBackend:    "local",
			LeaseTTL:       "30s",
			AcquireTimeout: "10s",
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "stampscore:lease:",
		},
		Rescore: RescoreConfig{
			BatchSize:      200,
			Workers:        4,
			MaxRetries:     3,
			InitialBackoff: "100ms",
			MaxBackoff:     "5s",
		},
		Log: LogConfig{
			Mode:  "prod",
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 0.1,
		},
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("stat config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects impossible values.
func (c Config) Validate() error {
	if c.Database.Dir == "" {
		return fmt.Errorf("database.dir is required")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	switch strings.ToLower(c.Dedup.LockBackend) {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("dedup.lock_backend %q: want local or redis", c.Dedup.LockBackend)
	}
	for name, v := range map[string]string{
		"database.busy_timeout":   c.Database.BusyTimeout,
		"dedup.lease_ttl":         c.Dedup.LeaseTTL,
		"dedup.acquire_timeout":   c.Dedup.AcquireTimeout,
		"rescore.initial_backoff": c.Rescore.InitialBackoff,
		"rescore.max_backoff":     c.Rescore.MaxBackoff,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Rescore.BatchSize <= 0 || c.Rescore.Workers <= 0 || c.Rescore.MaxRetries < 0 {
		return fmt.Errorf("rescore: batch_size and workers must be positive, max_retries non-negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio %v not in [0, 1]", c.Tracing.SampleRatio)
	}
	return nil
}

// ─── Duration helpers ───────────────────────────────────────────────────────

// BusyTimeoutDuration returns the parsed SQLite busy timeout.
func (c DatabaseConfig) BusyTimeoutDuration() time.Duration {
	return mustDuration(c.BusyTimeout, 5*time.Second)
}

// LeaseTTLDuration returns the parsed Redis lease lifetime.
func (c DedupConfig) LeaseTTLDuration() time.Duration {
	return mustDuration(c.LeaseTTL, 30*time.Second)
}

// AcquireTimeoutDuration returns how long lease acquisition may wait.
func (c DedupConfig) AcquireTimeoutDuration() time.Duration {
	return mustDuration(c.AcquireTimeout, 10*time.Second)
}

// InitialBackoffDuration returns the first retry delay.
func (c RescoreConfig) InitialBackoffDuration() time.Duration {
	return mustDuration(c.InitialBackoff, 100*time.Millisecond)
}

// MaxBackoffDuration returns the retry delay cap.
func (c RescoreConfig) MaxBackoffDuration() time.Duration {
	return mustDuration(c.MaxBackoff, 5*time.Second)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// mustDuration parses s, falling back to def when empty or invalid.
func mustDuration(s string, def time.Duration) time.Duration {
	d, err := parseDuration(s)
	if err != nil || d == 0 {
		return def
	}
	return d
}

// DefaultConfigPath is where Load looks when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(defaultDataDir(), "config.toml")
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".stampscore")
	}
	return ".stampscore"
}
