package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listeners
	Addr        string `env:"DIALOG_ADDR" envDefault:"127.0.0.1:5555"`
	MetricsAddr string `env:"DIALOG_METRICS_ADDR" envDefault:":9100"`

	// Persistence. Empty DSN selects the in-memory store (dev mode).
	DatabaseDSN string `env:"DIALOG_DB_DSN" envDefault:""`

	// Sessions
	SessionTTL time.Duration `env:"DIALOG_SESSION_TTL" envDefault:"24h"`

	// Connection timing
	HandshakeTimeout time.Duration `env:"DIALOG_HANDSHAKE_TIMEOUT" envDefault:"30s"`
	ReadPollInterval time.Duration `env:"DIALOG_READ_POLL" envDefault:"10s"`
	WriteTimeout     time.Duration `env:"DIALOG_WRITE_TIMEOUT" envDefault:"5s"`
	MaxFrameBytes    int           `env:"DIALOG_MAX_FRAME_BYTES" envDefault:"1048576"`

	// Sweepers
	IdleSweepInterval time.Duration `env:"DIALOG_IDLE_SWEEP_INTERVAL" envDefault:"30s"`
	IdleMax           time.Duration `env:"DIALOG_IDLE_MAX" envDefault:"300s"`
	CallSweepInterval time.Duration `env:"DIALOG_CALL_SWEEP_INTERVAL" envDefault:"60s"`
	RingingMax        time.Duration `env:"DIALOG_RINGING_MAX" envDefault:"120s"`
	ActiveCallMax     time.Duration `env:"DIALOG_ACTIVE_CALL_MAX" envDefault:"300s"`

	// Worker pool for journal writes and sweeper fan-out
	WorkerCount     int `env:"DIALOG_WORKER_COUNT" envDefault:"4"`
	WorkerQueueSize int `env:"DIALOG_WORKER_QUEUE" envDefault:"400"`

	// Shutdown
	DrainGracePeriod time.Duration `env:"DIALOG_DRAIN_GRACE" envDefault:"30s"`

	// Monitoring
	SystemSampleInterval time.Duration `env:"DIALOG_SYSTEM_SAMPLE_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file and environment variables.
// Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; production supplies real env vars.
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
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("DIALOG_ADDR is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("DIALOG_SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("DIALOG_HANDSHAKE_TIMEOUT must be positive, got %s", c.HandshakeTimeout)
	}
	if c.MaxFrameBytes < 4096 {
		return fmt.Errorf("DIALOG_MAX_FRAME_BYTES must be >= 4096, got %d", c.MaxFrameBytes)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("DIALOG_WORKER_COUNT must be > 0, got %d", c.WorkerCount)
	}
	if c.RingingMax > c.ActiveCallMax {
		return fmt.Errorf("DIALOG_RINGING_MAX (%s) must be <= DIALOG_ACTIVE_CALL_MAX (%s)",
			c.RingingMax, c.ActiveCallMax)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig logs the effective configuration with structured fields.
// Secrets (the DSN) are reported only by presence.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("metrics_addr", c.MetricsAddr).
		Bool("postgres", c.DatabaseDSN != "").
		Dur("session_ttl", c.SessionTTL).
		Dur("handshake_timeout", c.HandshakeTimeout).
		Dur("idle_sweep_interval", c.IdleSweepInterval).
		Dur("idle_max", c.IdleMax).
		Dur("call_sweep_interval", c.CallSweepInterval).
		Dur("ringing_max", c.RingingMax).
		Dur("active_call_max", c.ActiveCallMax).
		Int("worker_count", c.WorkerCount).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
