package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5555", cfg.Addr)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Empty(t, cfg.DatabaseDSN)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.IdleSweepInterval)
	assert.Equal(t, 300*time.Second, cfg.IdleMax)
	assert.Equal(t, 60*time.Second, cfg.CallSweepInterval)
	assert.Equal(t, 120*time.Second, cfg.RingingMax)
	assert.Equal(t, 300*time.Second, cfg.ActiveCallMax)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DIALOG_ADDR", "0.0.0.0:6000")
	t.Setenv("DIALOG_SESSION_TTL", "1h")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:6000", cfg.Addr)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(nil)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults pass", mutate: func(*Config) {}, wantErr: ""},
		{name: "missing addr", mutate: func(c *Config) { c.Addr = "" }, wantErr: "DIALOG_ADDR"},
		{name: "zero session ttl", mutate: func(c *Config) { c.SessionTTL = 0 }, wantErr: "DIALOG_SESSION_TTL"},
		{name: "tiny frame limit", mutate: func(c *Config) { c.MaxFrameBytes = 16 }, wantErr: "DIALOG_MAX_FRAME_BYTES"},
		{name: "no workers", mutate: func(c *Config) { c.WorkerCount = 0 }, wantErr: "DIALOG_WORKER_COUNT"},
		{
			name:    "ringing bound above active bound",
			mutate:  func(c *Config) { c.RingingMax = time.Hour; c.ActiveCallMax = time.Minute },
			wantErr: "DIALOG_RINGING_MAX",
		},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: "LOG_LEVEL"},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
