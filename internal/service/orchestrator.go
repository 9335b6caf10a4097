// Package service binds the relay components and drives the process
// state machine: stopped -> starting -> running -> draining -> stopped.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/relay-service/config"
	"github.com/webitel/relay-service/internal/bus"
	"github.com/webitel/relay-service/internal/dlq"
	"github.com/webitel/relay-service/internal/domain/event"
	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/domain/registry"
	"github.com/webitel/relay-service/internal/relay"
	"github.com/webitel/relay-service/internal/trigger"
	"github.com/webitel/relay-service/internal/webhook"
)

// Status is the orchestrator state.
type Status int32

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusDraining
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusDraining:
		return "draining"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "stopped"
	}
}

// Orchestrator owns the periodic sweeps and the drain sequence. All
// timers are cancellable; none survive Stop.
type Orchestrator struct {
	logger   *slog.Logger
	cfg      *config.Config
	registry *registry.Registry
	router   *relay.Router
	bus      *bus.Bus
	webhooks *webhook.Dispatcher
	triggers *trigger.Engine
	dead     *dlq.Queue

	state       atomic.Int32
	everStarted atomic.Bool
	cancel      context.CancelFunc
	timers      sync.WaitGroup
	startedAt   time.Time
	webhookSub  string
}

func NewOrchestrator(
	logger *slog.Logger,
	cfg *config.Config,
	reg *registry.Registry,
	router *relay.Router,
	b *bus.Bus,
	webhooks *webhook.Dispatcher,
	triggers *trigger.Engine,
	dead *dlq.Queue,
) *Orchestrator {
	return &Orchestrator{
		logger:   logger,
		cfg:      cfg,
		registry: reg,
		router:   router,
		bus:      b,
		webhooks: webhooks,
		triggers: triggers,
		dead:     dead,
	}
}

// Status returns the current state.
func (o *Orchestrator) Status() Status { return Status(o.state.Load()) }

// StatusString feeds telemetry.
func (o *Orchestrator) StatusString() string { return o.Status().String() }

// Start initializes timers and the bus-to-webhook bridge, then moves to
// running. Idempotent when already running, re-entrant after Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	switch Status(o.state.Load()) {
	case StatusRunning, StatusStarting:
		return nil
	case StatusDestroyed:
		return model.ErrDestroyed
	case StatusDraining:
		return model.ErrAlreadyStopped
	}
	if !o.state.CompareAndSwap(int32(StatusStopped), int32(StatusStarting)) {
		return nil // lost the race to a concurrent Start
	}
	o.startedAt = time.Now()

	// Every bus event is a webhook candidate; the dispatcher matches
	// registration patterns itself.
	subID, err := o.bus.Subscribe("*", func(ctx context.Context, ev event.Event) error {
		o.webhooks.Dispatch(ctx, ev)
		return nil
	}, bus.Async())
	if err != nil {
		o.state.Store(int32(StatusStopped))
		return err
	}
	o.webhookSub = subID
	o.registry.SetDraining(false)
	o.everStarted.Store(true)

	timerCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	o.every(timerCtx, o.cfg.HealthCheckInterval(), o.healthBeat)
	o.every(timerCtx, o.cfg.IdleSweepInterval(), func() { o.registry.SweepIdle() })
	o.every(timerCtx, o.cfg.IdleSweepInterval(), func() {
		o.registry.SweepBufferTTL(o.cfg.BufferTTL())
	})
	o.every(timerCtx, o.cfg.HealthCheckInterval(), func() {
		if n := o.dead.SweepAged(o.cfg.DLQMaxAge()); n > 0 {
			o.logger.Info("dlq age sweep", slog.Int("removed", n))
		}
	})
	o.every(timerCtx, time.Minute, o.metricsReport)

	o.state.Store(int32(StatusRunning))
	o.logger.Info("relay running")
	return nil
}

// Stop drains: admission refuses new connections, in-flight webhook
// deliveries get the drain deadline, then every connection is closed
// tenant by tenant and timers are cancelled. The bus and the dispatcher
// stay open so a later Start can reuse them; Destroy releases them.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StatusRunning), int32(StatusDraining)) {
		switch Status(o.state.Load()) {
		case StatusStopped:
			if o.everStarted.Load() {
				return model.ErrAlreadyStopped
			}
			return model.ErrNotStarted
		case StatusDraining:
			return model.ErrAlreadyStopped
		case StatusDestroyed:
			return model.ErrDestroyed
		default:
			return model.ErrNotStarted
		}
	}
	o.logger.Info("draining", slog.Duration("deadline", o.cfg.DrainDeadline()))
	o.registry.SetDraining(true)

	// Detach the bus-to-webhook bridge so the drain deadline covers only
	// deliveries already in flight.
	if o.webhookSub != "" {
		_ = o.bus.Unsubscribe(o.webhookSub)
		o.webhookSub = ""
	}

	drainCtx, cancel := context.WithTimeout(ctx, o.cfg.DrainDeadline())
	defer cancel()
	if err := o.webhooks.Drain(drainCtx); err != nil {
		o.logger.Warn("webhook drain incomplete", slog.Any("err", err))
	}

	o.registry.CloseAll("shutdown")

	if o.cancel != nil {
		o.cancel()
	}
	o.timers.Wait()

	o.state.Store(int32(StatusStopped))
	o.logger.Info("relay stopped")
	return nil
}

// Destroy cancels timers and releases resources from any state. No
// further operations are accepted.
func (o *Orchestrator) Destroy() {
	prev := Status(o.state.Swap(int32(StatusDestroyed)))
	if prev == StatusDestroyed {
		return
	}
	o.registry.SetDraining(true)
	if o.cancel != nil {
		o.cancel()
	}
	o.timers.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), o.cfg.DrainDeadline())
	defer cancel()
	_ = o.webhooks.Shutdown(drainCtx)

	o.bus.Shutdown()
	o.registry.CloseAll("destroyed")
}

// IngestChange feeds one host-database change event into the trigger
// engine. The relay does not interpret the payload.
func (o *Orchestrator) IngestChange(ctx context.Context, topic string, payload []byte, tenantID string) error {
	if Status(o.state.Load()) != StatusRunning {
		return model.ErrNotStarted
	}
	o.triggers.Ingest(ctx, event.Event{
		Topic:      topic,
		Payload:    payload,
		TenantID:   tenantID,
		OccurredAt: time.Now(),
	})
	return nil
}

func (o *Orchestrator) every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	o.timers.Add(1)
	go func() {
		defer o.timers.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}

func (o *Orchestrator) healthBeat() {
	rate, _ := o.router.Window.Rates()
	payload, err := json.Marshal(&event.HealthCheckPayload{
		Status:           o.StatusString(),
		TotalTenants:     o.registry.TotalTenants(),
		TotalConnections: o.registry.TotalConnections(),
		UptimeMs:         time.Since(o.startedAt).Milliseconds(),
		MessagesPerSec:   rate,
	})
	if err != nil {
		return
	}
	_, _ = o.bus.Publish(context.Background(), event.HealthCheck, payload)
}

// metricsReport is the periodic events-emitted summary.
func (o *Orchestrator) metricsReport() {
	stats := o.bus.Stats()
	o.logger.Info("events emitted",
		slog.Uint64("published", stats.Published),
		slog.Int("subscriptions", stats.Subscriptions),
		slog.Uint64("queue_drops", stats.DroppedByQueuePressure),
		slog.Uint64("filter_errors", stats.FilterErrors),
		slog.Int("dlq", o.dead.Len()),
	)
}
