package relay

import (
	"go.uber.org/fx"

	"github.com/webitel/relay-service/internal/ratelimit"
)

var Module = fx.Module("relay",
	fx.Provide(
		NewRouter,
		fx.Annotate(
			func(l *ratelimit.Limiter) Gate { return l },
			fx.As(new(Gate)),
		),
	),
)
