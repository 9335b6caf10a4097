package rest

import (
	"net/http"

	"go.uber.org/fx"

	"github.com/webitel/relay-service/internal/handler/ws"
)

var Module = fx.Module("rest-handler",
	fx.Provide(
		NewAdminHandler,
		func(h *AdminHandler, wsh *ws.WSHandler) http.Handler {
			return h.Routes(wsh)
		},
	),
)
