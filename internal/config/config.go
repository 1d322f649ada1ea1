// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	FrontendURL    string   `env:"FRONTEND_URL"`
	DBPath         string   `env:"DB_PATH" envDefault:"./data/twinning.db"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	Session        SessionConfig
	Gemini         GeminiConfig
	HTTP           HTTPConfig

	// InteractionLogEnabled records one audit row per chat round (no content).
	InteractionLogEnabled bool `env:"INTERACTION_LOG_ENABLED" envDefault:"true"`
	// InteractionRetention bounds how long audit rows are kept.
	InteractionRetention time.Duration `env:"INTERACTION_RETENTION" envDefault:"720h"`
}

// SessionConfig controls in-memory chat session lifetime.
type SessionConfig struct {
	TTL           time.Duration `env:"SESSION_TTL" envDefault:"60m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
}

// GeminiConfig points the completion client at the Gemini API.
type GeminiConfig struct {
	// BaseURL overrides the default generativelanguage endpoint. Empty uses the SDK default.
	BaseURL string `env:"GEMINI_BASE_URL"`
}

// HTTPConfig holds server limits.
type HTTPConfig struct {
	MaxRequestBodySize int64         `env:"MAX_REQUEST_BODY_BYTES" envDefault:"1048576"`
	ReadTimeout        time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	IdleTimeout        time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout    time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	HealthCheckTimeout time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"5s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.InteractionRetention <= 0 {
		return fmt.Errorf("INTERACTION_RETENTION must be > 0")
	}
	if c.HTTP.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS cannot be empty")
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
