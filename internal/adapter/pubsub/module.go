package pubsub

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/relay-service/config"
	"github.com/webitel/relay-service/internal/bus"
)

// Module wires the AMQP bridge only when a broker URL is configured.
var Module = fx.Module("amqp-egress",
	fx.Invoke(func(lc fx.Lifecycle, logger *slog.Logger, cfg *config.Config, b *bus.Bus) error {
		if !cfg.AMQP.Enabled() {
			return nil
		}
		egress, err := NewEgress(logger, b, Config{
			URL:      cfg.AMQP.URL,
			Exchange: cfg.AMQP.Exchange,
			Pattern:  cfg.AMQP.Pattern,
		})
		if err != nil {
			return err
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return egress.Start() },
			OnStop:  func(context.Context) error { return egress.Close() },
		})
		return nil
	}),
)
