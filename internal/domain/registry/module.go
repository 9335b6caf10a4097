package registry

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/relay-service/config"
	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/ratelimit"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(logger *slog.Logger, cfg *config.Config, gate Gate, emitter Emitter) *Registry {
			limits := model.DefaultTierLimits()
			for tier, n := range cfg.TierLimits {
				limits[model.Tier(tier)] = n
			}
			return New(logger, gate, emitter,
				WithTierLimits(limits),
				WithBufferCeiling(cfg.MessageBufferBytes),
				WithMailboxSize(cfg.ConnectionMailboxSize),
				WithIdleTimeout(cfg.IdleTimeout()),
			)
		},
		fx.Annotate(
			func(l *ratelimit.Limiter) Gate { return l },
			fx.As(new(Gate)),
		),
	),
)
