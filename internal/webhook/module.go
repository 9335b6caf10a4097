package webhook

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/relay-service/config"
	"github.com/webitel/relay-service/internal/dlq"
	"github.com/webitel/relay-service/internal/ratelimit"
)

var Module = fx.Module("webhook",
	fx.Provide(
		func(logger *slog.Logger, cfg *config.Config, dead *dlq.Queue, emitter Emitter, gate Gate) *Dispatcher {
			return NewDispatcher(logger, dead, emitter, gate, Config{
				Timeout:         cfg.Webhook.Timeout(),
				OverallDeadline: cfg.Webhook.OverallDeadline(),
				MaxConcurrent:   cfg.Webhook.MaxConcurrent,
				Breaker: BreakerConfig{
					Window:       cfg.CircuitBreaker.Window(),
					MinSamples:   cfg.CircuitBreaker.MinSamples,
					ErrorRatePct: cfg.CircuitBreaker.ErrorRatePct,
					Cooldown:     cfg.CircuitBreaker.Cooldown(),
					MaxCooldown:  cfg.CircuitBreaker.MaxCooldown(),
				},
			})
		},
		fx.Annotate(
			func(l *ratelimit.Limiter) Gate { return l },
			fx.As(new(Gate)),
		),
	),
)
