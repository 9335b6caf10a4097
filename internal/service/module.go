package service

import (
	"context"

	"go.uber.org/fx"

	"github.com/webitel/relay-service/internal/domain/registry"
	"github.com/webitel/relay-service/internal/relay"
	"github.com/webitel/relay-service/internal/trigger"
	"github.com/webitel/relay-service/internal/webhook"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		NewEmitter,
		NewOrchestrator,

		// One concrete emitter behind every package-local Emit interface.
		fx.Annotate(
			func(e *Emitter) registry.Emitter { return e },
			fx.As(new(registry.Emitter)),
		),
		fx.Annotate(
			func(e *Emitter) relay.Emitter { return e },
			fx.As(new(relay.Emitter)),
		),
		fx.Annotate(
			func(e *Emitter) webhook.Emitter { return e },
			fx.As(new(webhook.Emitter)),
		),
		fx.Annotate(
			func(e *Emitter) trigger.Emitter { return e },
			fx.As(new(trigger.Emitter)),
		),
		fx.Annotate(
			func(d *webhook.Dispatcher) trigger.WebhookSink { return d },
			fx.As(new(trigger.WebhookSink)),
		),
		fx.Annotate(
			func(e *Emitter) trigger.Republisher { return Republish{Bus: e.bus} },
			fx.As(new(trigger.Republisher)),
		),
	),

	fx.Invoke(func(lc fx.Lifecycle, o *Orchestrator) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error { return o.Start(ctx) },
			OnStop:  func(ctx context.Context) error { return o.Stop(ctx) },
		})
	}),
)
