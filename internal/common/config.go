// Package common provides shared utilities for Strata
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Strata
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Workers     WorkersConfig    `toml:"workers"`
	Janitor     JanitorConfig    `toml:"janitor"`
	MarketData  MarketDataConfig `toml:"marketdata"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string  `toml:"host"`
	Port         int     `toml:"port"`
	RateLimitRPS float64 `toml:"rate_limit_rps"` // requests/second per server; 0 disables limiting
}

// StorageConfig holds the embedded store location.
type StorageConfig struct {
	Path string `toml:"path"`
}

// WorkersConfig holds worker pool and retry policy configuration.
type WorkersConfig struct {
	Enabled       bool     `toml:"enabled"`
	Count         int      `toml:"count"`
	PollTimeout   string   `toml:"poll_timeout"`
	RecoveryDelay string   `toml:"recovery_delay"`
	MaxAttempts   int      `toml:"max_attempts"`
	Backoff       []string `toml:"backoff"`
	ShutdownGrace string   `toml:"shutdown_grace"`
}

// GetPollTimeout parses and returns the queue poll timeout
func (c *WorkersConfig) GetPollTimeout() time.Duration {
	d, err := time.ParseDuration(c.PollTimeout)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// GetRecoveryDelay parses and returns the sleep applied after a queue backend error
func (c *WorkersConfig) GetRecoveryDelay() time.Duration {
	d, err := time.ParseDuration(c.RecoveryDelay)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// GetShutdownGrace parses and returns the bounded wait for in-flight work on Stop
func (c *WorkersConfig) GetShutdownGrace() time.Duration {
	d, err := time.ParseDuration(c.ShutdownGrace)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// GetMaxAttempts returns the terminal failure threshold
func (c *WorkersConfig) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

// GetBackoff parses the per-attempt delay table. Invalid entries are dropped;
// an empty or unparseable table falls back to 1s/3s/5s.
func (c *WorkersConfig) GetBackoff() []time.Duration {
	var table []time.Duration
	for _, raw := range c.Backoff {
		if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
			table = append(table, d)
		}
	}
	if len(table) == 0 {
		return []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}
	}
	return table
}

// BackoffFor returns the delay before executing attempt number `attempts+1`,
// where attempts is the count of prior failed attempts. Indices past the end
// of the table clamp to the last entry; attempts < 1 means no delay.
func (c *WorkersConfig) BackoffFor(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	table := c.GetBackoff()
	if attempts > len(table) {
		return table[len(table)-1]
	}
	return table[attempts-1]
}

// JanitorConfig holds background maintenance configuration.
type JanitorConfig struct {
	Enabled        bool   `toml:"enabled"`
	Schedule       string `toml:"schedule"`        // cron spec for the stuck-job sweep
	StuckThreshold string `toml:"stuck_threshold"` // running longer than this is considered orphaned
	PurgeSchedule  string `toml:"purge_schedule"`  // cron spec for terminal-job purging
	PurgeAfter     string `toml:"purge_after"`     // terminal jobs older than this are purged
}

// GetStuckThreshold parses and returns the orphaned-job age threshold
func (c *JanitorConfig) GetStuckThreshold() time.Duration {
	d, err := time.ParseDuration(c.StuckThreshold)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// GetPurgeAfter parses and returns the terminal-job retention window
func (c *JanitorConfig) GetPurgeAfter() time.Duration {
	d, err := time.ParseDuration(c.PurgeAfter)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// MarketDataConfig holds market-data gateway configuration.
type MarketDataConfig struct {
	CacheTTL          string `toml:"cache_ttl"`
	SyntheticFallback bool   `toml:"synthetic_fallback"`
	CSVDir            string `toml:"csv_dir"`
}

// GetCacheTTL parses and returns the series cache TTL
func (c *MarketDataConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			RateLimitRPS: 0,
		},
		Storage: StorageConfig{
			Path: "data/strata",
		},
		Workers: WorkersConfig{
			Enabled:       true,
			Count:         3,
			PollTimeout:   "1s",
			RecoveryDelay: "1s",
			MaxAttempts:   3,
			Backoff:       []string{"1s", "3s", "5s"},
			ShutdownGrace: "60s",
		},
		Janitor: JanitorConfig{
			Enabled:        true,
			Schedule:       "@every 1m",
			StuckThreshold: "10m",
			PurgeSchedule:  "@every 1h",
			PurgeAfter:     "168h",
		},
		MarketData: MarketDataConfig{
			CacheTTL:          "10m",
			SyntheticFallback: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Apply environment overrides
	applyEnvOverrides(config)

	normalize(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("STRATA_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("STRATA_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("STRATA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("STRATA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("STRATA_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if v := os.Getenv("STRATA_WORKERS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Workers.Enabled = b
		}
	}

	if v := os.Getenv("STRATA_WORKERS_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Workers.Count = n
		}
	}

	if v := os.Getenv("STRATA_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Workers.MaxAttempts = n
		}
	}

	if dir := os.Getenv("STRATA_CSV_DIR"); dir != "" {
		config.MarketData.CSVDir = dir
	}
}

// normalize clamps out-of-range values back to usable defaults.
func normalize(config *Config) {
	if config.Workers.Count <= 0 {
		config.Workers.Count = 3
	}
	if config.Workers.MaxAttempts <= 0 {
		config.Workers.MaxAttempts = 3
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		config.Server.Port = 8090
	}
	if config.Server.RateLimitRPS < 0 {
		config.Server.RateLimitRPS = 0
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
