package bus

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/relay-service/config"
	"github.com/webitel/relay-service/internal/dlq"
)

var Module = fx.Module("bus",
	fx.Provide(
		func(cfg *config.Config) *dlq.Queue { return dlq.New(cfg.DLQCapacity) },
		func(logger *slog.Logger, cfg *config.Config, dead *dlq.Queue) *Bus {
			return New(logger, dead,
				WithReplayRingSize(cfg.ReplayRingSize),
				WithQueueDepth(cfg.SubscriptionQueueDepth),
			)
		},
	),
)
