package cmd

import (
	"log/slog"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webitel/relay-service/config"
	httpsrv "github.com/webitel/relay-service/infra/server/http"
	"github.com/webitel/relay-service/internal/adapter/pubsub"
	"github.com/webitel/relay-service/internal/bus"
	"github.com/webitel/relay-service/internal/domain/registry"
	"github.com/webitel/relay-service/internal/handler/rest"
	"github.com/webitel/relay-service/internal/handler/ws"
	"github.com/webitel/relay-service/internal/ratelimit"
	"github.com/webitel/relay-service/internal/relay"
	"github.com/webitel/relay-service/internal/service"
	"github.com/webitel/relay-service/internal/telemetry"
	"github.com/webitel/relay-service/internal/trigger"
	"github.com/webitel/relay-service/internal/webhook"
)

func ProvideLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	return logger
}

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
		ratelimit.Module,
		bus.Module,
		registry.Module,
		relay.Module,
		webhook.Module,
		trigger.Module,
		service.Module,
		telemetry.Module,
		ws.Module,
		rest.Module,
		pubsub.Module,
		httpsrv.Module,
	)
}
