// Package relay routes messages within tenant boundaries: direct to a
// target connection, broadcast to all peers, or into the tenant's
// bounded buffer when the target is absent. The relay never blocks on
// a slow recipient; transports signal saturation through the mailbox.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/webitel/relay-service/internal/domain/event"
	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/domain/registry"
	"github.com/webitel/relay-service/internal/ratelimit"
	"github.com/webitel/relay-service/internal/window"
)

// Emitter publishes relay lifecycle events onto the bus.
type Emitter interface {
	Emit(topic, tenantID string, payload any)
}

// Gate is the per-tenant admission control consulted before routing.
type Gate interface {
	Allow(tenantID string, op ratelimit.Op) bool
}

// Router dispatches messages and feeds the sliding windows.
type Router struct {
	logger  *slog.Logger
	reg     *registry.Registry
	gate    Gate
	emitter Emitter

	maxPayload int

	// Messages and bytes observed over the telemetry window.
	Window *window.RateWindow
}

func NewRouter(logger *slog.Logger, reg *registry.Registry, gate Gate, emitter Emitter) *Router {
	return &Router{
		logger:     logger,
		reg:        reg,
		gate:       gate,
		emitter:    emitter,
		maxPayload: model.MaxRelayPayloadBytes,
		Window:     window.NewRateWindow(time.Minute),
	}
}

// Relay dispatches one payload. An empty targetID broadcasts to every
// peer in the tenant except the sender; a set targetID delivers to that
// connection only, buffering when it is absent.
func (r *Router) Relay(ctx context.Context, tenantID, senderID string, payload []byte, targetID string) (model.RelayResult, error) {
	if err := ctx.Err(); err != nil {
		return model.RelayResult{}, err
	}
	if len(payload) > r.maxPayload {
		return model.RelayResult{}, fmt.Errorf("%w: %d bytes", model.ErrPayloadTooLarge, len(payload))
	}
	if !r.gate.Allow(tenantID, ratelimit.OpPublish) {
		r.emitter.Emit(event.TenantThrottled, tenantID, &event.ThrottledPayload{
			TenantID: tenantID,
			Reason:   event.ThrottleReasonRate,
		})
		return model.RelayResult{}, model.ErrRateLimited
	}

	var (
		res model.RelayResult
		err error
	)
	if targetID != "" {
		res, err = r.reg.RelayToTarget(tenantID, senderID, targetID, payload)
	} else {
		res, err = r.reg.RelayBroadcast(tenantID, senderID, payload)
	}

	switch {
	case err == nil:
	case errors.Is(err, model.ErrBufferFull):
		// Rejected whole: nothing was partially buffered.
		r.emitter.Emit(event.BufferOverflow, tenantID, &event.BufferOverflowPayload{
			TenantID:     tenantID,
			TargetID:     targetID,
			DroppedBytes: len(payload),
		})
		return res, err
	default:
		return res, err
	}

	if res.DroppedBytes > 0 {
		// Broadcast copies lost while re-routing saturated recipients.
		r.emitter.Emit(event.BufferOverflow, tenantID, &event.BufferOverflowPayload{
			TenantID:     tenantID,
			DroppedBytes: res.DroppedBytes,
		})
	}

	r.Window.Observe(int64(len(payload)))
	r.emitter.Emit(event.MessageRelayed, tenantID, &event.RelayedPayload{
		TenantID:  tenantID,
		SenderID:  senderID,
		TargetID:  targetID,
		Bytes:     len(payload),
		Delivered: res.Delivered,
		Buffered:  res.Buffered,
	})
	r.logger.Debug("relayed",
		slog.String("tenant_id", tenantID),
		slog.String("sender_id", senderID),
		slog.Int("bytes", len(payload)),
		slog.Int("delivered", res.Delivered),
		slog.Bool("buffered", res.Buffered),
	)
	return res, nil
}
