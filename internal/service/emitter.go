package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/webitel/relay-service/internal/bus"
)

// Emitter adapts the event bus to the small Emit interface the
// registry, relay, webhook dispatcher, and trigger engine depend on.
// Payloads marshal to JSON; emission is best-effort by contract and
// failures only log.
type Emitter struct {
	logger *slog.Logger
	bus    *bus.Bus
}

func NewEmitter(logger *slog.Logger, b *bus.Bus) *Emitter {
	return &Emitter{logger: logger, bus: b}
}

func (e *Emitter) Emit(topic, tenantID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("emit marshal failed", slog.String("topic", topic), slog.Any("err", err))
		return
	}
	opts := []bus.PublishOption{}
	if tenantID != "" {
		opts = append(opts, bus.WithTenantID(tenantID))
	}
	if _, err := e.bus.Publish(context.Background(), topic, body, opts...); err != nil {
		e.logger.Warn("emit publish failed", slog.String("topic", topic), slog.Any("err", err))
	}
}

// Republish satisfies the trigger engine's bus dependency, carrying the
// hop counter forward.
type Republish struct {
	Bus *bus.Bus
}

func (r Republish) Publish(ctx context.Context, topic string, payload []byte, tenantID string, hops int) (uint64, error) {
	opts := []bus.PublishOption{bus.WithHops(hops)}
	if tenantID != "" {
		opts = append(opts, bus.WithTenantID(tenantID))
	}
	return r.Bus.Publish(ctx, topic, payload, opts...)
}
