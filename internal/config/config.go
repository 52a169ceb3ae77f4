// Package config holds the engine's ambient configuration: lock and
// transaction timeouts, and the logging level. Persistence, network, and
// SQL-dialect settings belong to the out-of-scope generated table/server
// layer and are not modeled here.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the indexing engine.
type Config struct {
	Lock        LockConfig
	Transaction TransactionConfig
	Log         LogConfig
}

// LockConfig holds a default lock acquisition timeout.
type LockConfig struct {
	// DefaultTimeoutMs is a lock acquisition timeout in milliseconds; -1
	// means infinite. It is loaded, validated and printed here; the lock
	// itself does not read it, and EnterRead/EnterWrite always use the
	// timeout their caller passes.
	DefaultTimeoutMs int
}

// TransactionConfig controls LockingTransactionScope defaults.
type TransactionConfig struct {
	// DefaultTimeoutMs seeds the scope's internal cancellation deadline
	// when a caller uses NewScope instead of NewScopeWithContext.
	DefaultTimeoutMs int
}

// LogConfig controls the zerolog level used across the engine.
type LogConfig struct {
	Level string
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Lock: LockConfig{
			DefaultTimeoutMs: 5000,
		},
		Transaction: TransactionConfig{
			DefaultTimeoutMs: 30000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables, falling
// back to defaults.
func LoadFromEnv() *Config {
	cfg := Default()

	if timeoutStr := os.Getenv("GAMMAFOUR_LOCK_TIMEOUT_MS"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.Lock.DefaultTimeoutMs = timeout
		}
	}
	if timeoutStr := os.Getenv("GAMMAFOUR_TXN_TIMEOUT_MS"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.Transaction.DefaultTimeoutMs = timeout
		}
	}
	if level := os.Getenv("GAMMAFOUR_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg
}

// Validate checks that the configuration can be used to build the engine.
func (c *Config) Validate() error {
	if c.Lock.DefaultTimeoutMs < -1 {
		return fmt.Errorf("lock timeout must be -1 (infinite) or non-negative: %d", c.Lock.DefaultTimeoutMs)
	}
	if c.Transaction.DefaultTimeoutMs < -1 {
		return fmt.Errorf("transaction timeout must be -1 (infinite) or non-negative: %d", c.Transaction.DefaultTimeoutMs)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return nil
}

// Logger builds a zerolog.Logger configured at the level this config
// specifies, writing to stderr.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// String returns a formatted string representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf(`Engine Configuration:
  Lock:
    Default Timeout: %d ms
  Transaction:
    Default Timeout: %d ms
  Log:
    Level: %s`,
		c.Lock.DefaultTimeoutMs, c.Transaction.DefaultTimeoutMs, c.Log.Level)
}
