// Package config loads and validates server configuration from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Server basics
	Addr        string `env:"RELAY_ADDR" envDefault:":3002"`
	DatabaseDSN string `env:"DATABASE_DSN,required"`
	NATSURL     string `env:"NATS_URL" envDefault:""` // empty disables the bus

	// Auth
	JWTSecret string        `env:"JWT_SECRET,required"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	// Capacity
	MaxConnections int `env:"RELAY_MAX_CONNECTIONS" envDefault:"5000"`

	// Presence mirror worker pool
	WorkerCount     int `env:"RELAY_WORKERS" envDefault:"8"`
	WorkerQueueSize int `env:"RELAY_WORKER_QUEUE" envDefault:"1024"`

	// Per-IP handshake admission
	AdmissionRate  float64 `env:"RELAY_ADMISSION_RATE" envDefault:"5"`
	AdmissionBurst int     `env:"RELAY_ADMISSION_BURST" envDefault:"10"`

	// Shutdown
	ShutdownTimeout time.Duration `env:"RELAY_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// In production we use environment variables directly; the .env file is a
	// development convenience.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}
	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("RELAY_ADDR is required")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	// Range checks
	if c.MaxConnections < 1 {
		return fmt.Errorf("RELAY_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("RELAY_WORKERS must be > 0, got %d", c.WorkerCount)
	}
	if c.WorkerQueueSize < 1 {
		return fmt.Errorf("RELAY_WORKER_QUEUE must be > 0, got %d", c.WorkerQueueSize)
	}
	if c.AdmissionRate <= 0 {
		return fmt.Errorf("RELAY_ADMISSION_RATE must be > 0, got %.1f", c.AdmissionRate)
	}
	if c.AdmissionBurst < 1 {
		return fmt.Errorf("RELAY_ADMISSION_BURST must be > 0, got %d", c.AdmissionBurst)
	}

	// Enum checks
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs configuration using structured logging
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Bool("nats_enabled", c.NATSURL != "").
		Int("max_connections", c.MaxConnections).
		Int("workers", c.WorkerCount).
		Int("worker_queue", c.WorkerQueueSize).
		Float64("admission_rate", c.AdmissionRate).
		Int("admission_burst", c.AdmissionBurst).
		Dur("shutdown_timeout", c.ShutdownTimeout).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
