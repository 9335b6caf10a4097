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

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, 8433, cfg.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.EqualValues(t, 10<<20, cfg.MessageBufferBytes)
	assert.Equal(t, 5*time.Minute, cfg.BufferTTL())
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval())
	assert.Equal(t, 5, cfg.Webhook.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Webhook.BaseBackoff())
	assert.Equal(t, 50.0, cfg.CircuitBreaker.ErrorRatePct)
	assert.Equal(t, 10, cfg.TierLimits["free"])
	assert.Equal(t, 1000, cfg.TierLimits["enterprise"])
	assert.False(t, cfg.TLS.Enabled())
	assert.False(t, cfg.AMQP.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
port: 9000
log:
  level: debug
bufferTtlMs: 1000
tierLimits:
  free: 3
webhook:
  maxAttempts: 2
`)
	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, time.Second, cfg.BufferTTL())
	assert.Equal(t, 3, cfg.TierLimits["free"])
	assert.Equal(t, 2, cfg.Webhook.MaxAttempts)
}

func TestMissingFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"tls cert without key", func(c *Config) { c.TLS.Cert = "cert.pem" }},
		{"zero buffer", func(c *Config) { c.MessageBufferBytes = 0 }},
		{"zero attempts", func(c *Config) { c.Webhook.MaxAttempts = 0 }},
		{"error rate out of range", func(c *Config) { c.CircuitBreaker.ErrorRatePct = 150 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "chatty" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig("", nil)
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "warn"}}
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	cfg.Log.Level = "ERROR"
	assert.Equal(t, slog.LevelError, cfg.SlogLevel())
	cfg.Log.Level = ""
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}
