// Package config defines the keygate configuration file format and its
// defaults.
package config

import (
	"fmt"
	"time"
)

// Config represents the top-level keygate configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins"`
	EdgeRPM         int      `yaml:"edge_rpm"`
	Dev             bool     `yaml:"dev"`
}

// AuthConfig controls sessions and credential issuance.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	SessionTTL      string `yaml:"session_ttl"`
	MaxKeysPerOwner int    `yaml:"max_keys_per_owner"`
}

// StoreConfig selects and configures the credential store backend.
type StoreConfig struct {
	Driver  string `yaml:"driver"` // sqlite, postgres, mysql
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"` // sqlite only
}

// RateLimitConfig selects the governor backend and per-action budgets.
type RateLimitConfig struct {
	Backend   string                  `yaml:"backend"` // memory or redis
	RedisAddr string                  `yaml:"redis_addr"`
	Actions   map[string]BudgetConfig `yaml:"actions"`
}

// BudgetConfig is one action's fixed-window budget.
type BudgetConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORSOrigins:     []string{"*"},
			EdgeRPM:         600,
		},
		Auth: AuthConfig{
			SessionTTL:      "24h",
			MaxKeysPerOwner: 5,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		RateLimit: RateLimitConfig{
			Backend: "memory",
			Actions: map[string]BudgetConfig{
				"generic":  {Limit: 120, Window: "1m"},
				"register": {Limit: 5, Window: "1h"},
				"chat":     {Limit: 30, Window: "1m"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SessionTTLDuration parses the configured session lifetime.
func (c *AuthConfig) SessionTTLDuration() (time.Duration, error) {
	if c.SessionTTL == "" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		return 0, fmt.Errorf("parse session_ttl: %w", err)
	}
	return d, nil
}

// ShutdownTimeoutDuration parses the configured shutdown grace period.
func (c *ServerConfig) ShutdownTimeoutDuration() (time.Duration, error) {
	if c.ShutdownTimeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("parse shutdown_timeout: %w", err)
	}
	return d, nil
}

// WindowDuration parses one budget's window.
func (b *BudgetConfig) WindowDuration() (time.Duration, error) {
	if b.Window == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(b.Window)
	if err != nil {
		return 0, fmt.Errorf("parse rate limit window: %w", err)
	}
	return d, nil
}
