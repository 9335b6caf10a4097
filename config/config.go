// Package config loads the relay configuration: YAML file, RELAY_*
// environment overrides, and hot reload for the log level.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Port int       `mapstructure:"port"`
	TLS  TLSConfig `mapstructure:"tls"`
	Log  LogConfig `mapstructure:"log"`

	MaxConnectionsPerTenant int            `mapstructure:"maxConnectionsPerTenant"`
	TierLimits              map[string]int `mapstructure:"tierLimits"`

	MessageBufferBytes    int64 `mapstructure:"messageBufferBytes"`
	BufferTTLMs           int64 `mapstructure:"bufferTtlMs"`
	IdleTimeoutMs         int64 `mapstructure:"idleTimeoutMs"`
	IdleSweepIntervalMs   int64 `mapstructure:"idleSweepIntervalMs"`
	HealthCheckIntervalMs int64 `mapstructure:"healthCheckIntervalMs"`
	DrainDeadlineMs       int64 `mapstructure:"drainDeadlineMs"`

	ConnectionMailboxSize  int   `mapstructure:"connectionMailboxSize"`
	ReplayRingSize         int   `mapstructure:"replayRingSize"`
	SubscriptionQueueDepth int   `mapstructure:"subscriptionQueueDepth"`
	DLQCapacity            int   `mapstructure:"dlqCapacity"`
	DLQMaxAgeMs            int64 `mapstructure:"dlqMaxAgeMs"`
	MaxFanOutDepth         int   `mapstructure:"maxFanOutDepth"`

	RateLimit      RateLimitConfig      `mapstructure:"rateLimit"`
	Webhook        WebhookConfig        `mapstructure:"webhook"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
	AMQP           AMQPConfig           `mapstructure:"amqp"`
}

type TLSConfig struct {
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

func (t TLSConfig) Enabled() bool { return t.Cert != "" && t.Key != "" }

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RateLimitConfig struct {
	ConnectPerSecond float64 `mapstructure:"connectPerSecond"`
	ConnectBurst     int     `mapstructure:"connectBurst"`
	PublishPerSecond float64 `mapstructure:"publishPerSecond"`
	PublishBurst     int     `mapstructure:"publishBurst"`
	FanoutPerSecond  float64 `mapstructure:"fanoutPerSecond"`
	FanoutBurst      int     `mapstructure:"fanoutBurst"`
}

type WebhookConfig struct {
	TimeoutMs         int64   `mapstructure:"timeoutMs"`
	OverallDeadlineMs int64   `mapstructure:"overallDeadlineMs"`
	MaxAttempts       int     `mapstructure:"maxAttempts"`
	BaseBackoffMs     int64   `mapstructure:"baseBackoffMs"`
	MaxBackoffMs      int64   `mapstructure:"maxBackoffMs"`
	JitterPct         float64 `mapstructure:"jitterPct"`
	MaxConcurrent     int     `mapstructure:"maxConcurrent"`
}

type CircuitBreakerConfig struct {
	WindowMs      int64   `mapstructure:"windowMs"`
	MinSamples    int     `mapstructure:"minSamples"`
	ErrorRatePct  float64 `mapstructure:"errorRatePct"`
	CooldownMs    int64   `mapstructure:"cooldownMs"`
	MaxCooldownMs int64   `mapstructure:"maxCooldownMs"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Pattern  string `mapstructure:"pattern"`
}

func (a AMQPConfig) Enabled() bool { return a.URL != "" }

// Duration accessors; the file keeps millisecond integers.

func (c *Config) BufferTTL() time.Duration           { return ms(c.BufferTTLMs) }
func (c *Config) IdleTimeout() time.Duration         { return ms(c.IdleTimeoutMs) }
func (c *Config) IdleSweepInterval() time.Duration   { return ms(c.IdleSweepIntervalMs) }
func (c *Config) HealthCheckInterval() time.Duration { return ms(c.HealthCheckIntervalMs) }
func (c *Config) DrainDeadline() time.Duration       { return ms(c.DrainDeadlineMs) }
func (c *Config) DLQMaxAge() time.Duration           { return ms(c.DLQMaxAgeMs) }

func (w WebhookConfig) Timeout() time.Duration         { return ms(w.TimeoutMs) }
func (w WebhookConfig) OverallDeadline() time.Duration { return ms(w.OverallDeadlineMs) }
func (w WebhookConfig) BaseBackoff() time.Duration     { return ms(w.BaseBackoffMs) }
func (w WebhookConfig) MaxBackoff() time.Duration      { return ms(w.MaxBackoffMs) }

func (cb CircuitBreakerConfig) Window() time.Duration      { return ms(cb.WindowMs) }
func (cb CircuitBreakerConfig) Cooldown() time.Duration    { return ms(cb.CooldownMs) }
func (cb CircuitBreakerConfig) MaxCooldown() time.Duration { return ms(cb.MaxCooldownMs) }

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8433)
	v.SetDefault("log.level", "info")

	v.SetDefault("maxConnectionsPerTenant", 100)
	v.SetDefault("tierLimits", map[string]int{"free": 10, "pro": 100, "enterprise": 1000})

	v.SetDefault("messageBufferBytes", int64(10<<20))
	v.SetDefault("bufferTtlMs", int64(300_000))
	v.SetDefault("idleTimeoutMs", int64(300_000))
	v.SetDefault("idleSweepIntervalMs", int64(30_000))
	v.SetDefault("healthCheckIntervalMs", int64(30_000))
	v.SetDefault("drainDeadlineMs", int64(30_000))

	v.SetDefault("connectionMailboxSize", 1024)
	v.SetDefault("replayRingSize", 10_000)
	v.SetDefault("subscriptionQueueDepth", 1024)
	v.SetDefault("dlqCapacity", 4096)
	v.SetDefault("dlqMaxAgeMs", int64(3_600_000))
	v.SetDefault("maxFanOutDepth", 8)

	v.SetDefault("rateLimit.connectPerSecond", 10.0)
	v.SetDefault("rateLimit.connectBurst", 20)
	v.SetDefault("rateLimit.publishPerSecond", 500.0)
	v.SetDefault("rateLimit.publishBurst", 1000)
	v.SetDefault("rateLimit.fanoutPerSecond", 100.0)
	v.SetDefault("rateLimit.fanoutBurst", 200)

	v.SetDefault("webhook.timeoutMs", int64(10_000))
	v.SetDefault("webhook.overallDeadlineMs", int64(300_000))
	v.SetDefault("webhook.maxAttempts", 5)
	v.SetDefault("webhook.baseBackoffMs", int64(1_000))
	v.SetDefault("webhook.maxBackoffMs", int64(60_000))
	v.SetDefault("webhook.jitterPct", 20.0)
	v.SetDefault("webhook.maxConcurrent", 64)

	v.SetDefault("circuitBreaker.windowMs", int64(30_000))
	v.SetDefault("circuitBreaker.minSamples", 10)
	v.SetDefault("circuitBreaker.errorRatePct", 50.0)
	v.SetDefault("circuitBreaker.cooldownMs", int64(60_000))
	v.SetDefault("circuitBreaker.maxCooldownMs", int64(600_000))

	v.SetDefault("amqp.exchange", "relay.events")
	v.SetDefault("amqp.pattern", "*")
}

// LoadConfig reads path (optional) plus RELAY_* environment variables.
// onReload, if non-nil, receives the refreshed config on file changes.
func LoadConfig(path string, onReload func(*Config)) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if path != "" && onReload != nil {
		v.OnConfigChange(func(_ fsnotify.Event) {
			next := new(Config)
			if err := v.Unmarshal(next); err != nil {
				slog.Warn("config reload ignored", slog.Any("err", err))
				return
			}
			if err := next.Validate(); err != nil {
				slog.Warn("config reload ignored", slog.Any("err", err))
				return
			}
			onReload(next)
		})
		v.WatchConfig()
	}
	return cfg, nil
}

// Validate fails fast on configurations the relay cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("config: tls requires both cert and key")
	}
	if c.MessageBufferBytes <= 0 {
		return fmt.Errorf("config: messageBufferBytes must be positive")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("config: webhook.maxAttempts must be positive")
	}
	if c.CircuitBreaker.ErrorRatePct <= 0 || c.CircuitBreaker.ErrorRatePct > 100 {
		return fmt.Errorf("config: circuitBreaker.errorRatePct out of range")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

// SlogLevel maps the configured level to slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
