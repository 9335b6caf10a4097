package ratelimit

import (
	"go.uber.org/fx"

	"github.com/webitel/relay-service/config"
)

// Tracked tenant buckets before LRU eviction kicks in.
const maxTrackedTenants = 16384

var Module = fx.Module("ratelimit",
	fx.Provide(
		func(cfg *config.Config) *Limiter {
			return NewLimiter(Config{
				OpConnect: {PerSecond: cfg.RateLimit.ConnectPerSecond, Burst: cfg.RateLimit.ConnectBurst},
				OpPublish: {PerSecond: cfg.RateLimit.PublishPerSecond, Burst: cfg.RateLimit.PublishBurst},
				OpFanout:  {PerSecond: cfg.RateLimit.FanoutPerSecond, Burst: cfg.RateLimit.FanoutBurst},
			}, maxTrackedTenants)
		},
	),
)
