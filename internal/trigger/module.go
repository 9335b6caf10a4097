package trigger

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/relay-service/config"
)

var Module = fx.Module("trigger",
	fx.Provide(
		func(logger *slog.Logger, cfg *config.Config, webhooks WebhookSink, bus Republisher, emitter Emitter) *Engine {
			return NewEngine(logger, webhooks, bus, emitter, cfg.MaxFanOutDepth)
		},
	),
)
