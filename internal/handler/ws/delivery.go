// Package ws is the websocket transport for the framed relay protocol.
// One goroutine reads client frames, a second pumps deliveries out of
// the connection mailbox.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/domain/registry"
	"github.com/webitel/relay-service/internal/relay"
)

// Frames carry a 1 MiB payload plus the JSON envelope.
const readLimit = model.MaxRelayPayloadBytes + 4096

const writeWait = 10 * time.Second

type WSHandler struct {
	logger   *slog.Logger
	registry *registry.Registry
	router   *relay.Router
	upgrader websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, reg *registry.Registry, router *relay.Router) *WSHandler {
	return &WSHandler{
		logger:   logger,
		registry: reg,
		router:   router,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.Any("err", err))
		return
	}
	defer ws.Close()
	ws.SetReadLimit(readLimit)

	// The session starts with HELLO; anything else is a protocol error.
	var hello model.Frame
	if err := ws.ReadJSON(&hello); err != nil || hello.Type != model.FrameHello || hello.TenantID == "" {
		writeError(ws, "PROTOCOL_ERROR", "expected HELLO with tenantId")
		return
	}

	conn, err := h.registry.Connect(hello.TenantID)
	if err != nil {
		writeError(ws, model.ErrorCode(err), err.Error())
		return
	}
	defer h.registry.Disconnect(conn.TenantID(), conn.ID(), "transport closed")

	h.logger.Info("ws opened",
		slog.String("tenant_id", conn.TenantID()),
		slog.String("conn_id", conn.ID()),
	)

	if err := writeFrame(ws, model.Frame{
		Type:         model.FrameWelcome,
		ConnectionID: conn.ID(),
		ServerTime:   time.Now().UnixMilli(),
	}); err != nil {
		return
	}

	// Outbound pump. The websocket connection is not safe for concurrent
	// writes, so control replies go through the same channel.
	outbound := make(chan model.Frame, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-conn.Done():
				writeFrame(ws, model.Frame{Type: model.FrameBye, Reason: "closed by server"})
				ws.Close()
				return
			case f := <-outbound:
				if err := writeFrame(ws, f); err != nil {
					ws.Close()
					return
				}
			case d := <-conn.Recv():
				if err := writeFrame(ws, model.Frame{
					Type:    model.FrameDeliver,
					From:    d.From,
					Payload: d.Payload,
				}); err != nil {
					ws.Close()
					return
				}
			}
		}
	}()
	defer func() { <-writerDone }()

	for {
		var f model.Frame
		if err := ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("ws read failed", slog.String("conn_id", conn.ID()), slog.Any("err", err))
			}
			return
		}

		switch f.Type {
		case model.FramePing:
			h.registry.Touch(conn.TenantID(), conn.ID())
			if !send(outbound, conn.Done(), model.Frame{Type: model.FramePong}) {
				return
			}
		case model.FrameRelay:
			h.registry.Touch(conn.TenantID(), conn.ID())
			_, err := h.router.Relay(r.Context(), conn.TenantID(), conn.ID(), f.Payload, f.Target)
			if err != nil && !errors.Is(err, context.Canceled) {
				if !send(outbound, conn.Done(), model.Frame{
					Type:    model.FrameError,
					Code:    model.ErrorCode(err),
					Message: err.Error(),
				}) {
					return
				}
			}
		case model.FrameBye:
			h.registry.Disconnect(conn.TenantID(), conn.ID(), f.Reason)
			return
		default:
			if !send(outbound, conn.Done(), model.Frame{
				Type:    model.FrameError,
				Code:    "PROTOCOL_ERROR",
				Message: "unexpected frame " + string(f.Type),
			}) {
				return
			}
		}
	}
}

func send(out chan<- model.Frame, done <-chan struct{}, f model.Frame) bool {
	select {
	case out <- f:
		return true
	case <-done:
		return false
	}
}

func writeFrame(ws *websocket.Conn, f model.Frame) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(f)
}

func writeError(ws *websocket.Conn, code, msg string) {
	writeFrame(ws, model.Frame{Type: model.FrameError, Code: code, Message: msg})
}
