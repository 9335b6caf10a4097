package telemetry

import (
	"go.uber.org/fx"

	"github.com/webitel/relay-service/internal/bus"
	"github.com/webitel/relay-service/internal/dlq"
	"github.com/webitel/relay-service/internal/domain/registry"
	"github.com/webitel/relay-service/internal/relay"
	"github.com/webitel/relay-service/internal/service"
	"github.com/webitel/relay-service/internal/webhook"
)

var Module = fx.Module("telemetry",
	fx.Provide(
		func(
			reg *registry.Registry,
			b *bus.Bus,
			webhooks *webhook.Dispatcher,
			dead *dlq.Queue,
			router *relay.Router,
			o *service.Orchestrator,
		) *Collector {
			return NewCollector(reg, b, webhooks, dead, router.Window, o.StatusString)
		},
		NewExporter,
	),
)
