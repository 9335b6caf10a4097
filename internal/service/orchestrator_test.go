package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/relay-service/config"
	"github.com/webitel/relay-service/internal/bus"
	"github.com/webitel/relay-service/internal/dlq"
	"github.com/webitel/relay-service/internal/domain/event"
	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/domain/registry"
	"github.com/webitel/relay-service/internal/ratelimit"
	"github.com/webitel/relay-service/internal/relay"
	"github.com/webitel/relay-service/internal/trigger"
	"github.com/webitel/relay-service/internal/webhook"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                  8433,
		MessageBufferBytes:    1 << 20,
		BufferTTLMs:           60_000,
		IdleTimeoutMs:         60_000,
		IdleSweepIntervalMs:   10,
		HealthCheckIntervalMs: 10,
		DrainDeadlineMs:       1_000,
		DLQMaxAgeMs:           60_000,
		Webhook:               config.WebhookConfig{MaxAttempts: 1, TimeoutMs: 1000},
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *registry.Registry, *bus.Bus) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	dead := dlq.New(64)
	b := bus.New(logger, dead)
	emitter := NewEmitter(logger, b)
	gate := ratelimit.NewLimiter(ratelimit.DefaultConfig(), 64)
	reg := registry.New(logger, gate, emitter)
	router := relay.NewRouter(logger, reg, gate, emitter)
	webhooks := webhook.NewDispatcher(logger, dead, emitter, gate, webhook.DefaultConfig())
	triggers := trigger.NewEngine(logger, webhooks, Republish{Bus: b}, emitter, 8)

	o := NewOrchestrator(logger, testConfig(), reg, router, b, webhooks, triggers, dead)
	t.Cleanup(o.Destroy)
	return o, reg, b
}

type denyAllGate struct{}

func (denyAllGate) Allow(string, ratelimit.Op) bool { return false }
func (denyAllGate) Forget(string)                   {}

// A tenant denied by the fanout gate must not feed the bus through its
// own throttle events: the bridge loops every published event back into
// the dispatcher.
func TestThrottledTenantDoesNotStormBus(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	dead := dlq.New(64)
	b := bus.New(logger, dead)
	emitter := NewEmitter(logger, b)
	gate := denyAllGate{}
	reg := registry.New(logger, gate, emitter)
	router := relay.NewRouter(logger, reg, gate, emitter)
	webhooks := webhook.NewDispatcher(logger, dead, emitter, gate, webhook.DefaultConfig())
	triggers := trigger.NewEngine(logger, webhooks, Republish{Bus: b}, emitter, 8)
	cfg := testConfig()
	cfg.HealthCheckIntervalMs = 3_600_000
	cfg.IdleSweepIntervalMs = 3_600_000

	o := NewOrchestrator(logger, cfg, reg, router, b, webhooks, triggers, dead)
	t.Cleanup(o.Destroy)
	require.NoError(t, o.Start(context.Background()))

	_, err := webhooks.Register(webhook.Registration{URL: "http://127.0.0.1:9/hook", Pattern: "*"})
	require.NoError(t, err)

	for range 2 {
		_, err := b.Publish(context.Background(), "orders.created", []byte(`{}`), bus.WithTenantID("acme"))
		require.NoError(t, err)
	}
	time.Sleep(300 * time.Millisecond)

	// Each denied event adds at most one throttle event; nothing cascades.
	assert.Less(t, b.Stats().Published, uint64(10))
}

func TestLifecycleTransitions(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	assert.Equal(t, StatusStopped, o.Status())

	// Stop before Start is an error.
	assert.ErrorIs(t, o.Stop(context.Background()), model.ErrNotStarted)

	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, StatusRunning, o.Status())
	require.NoError(t, o.Start(context.Background()), "start is idempotent while running")

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, StatusStopped, o.Status())
	assert.ErrorIs(t, o.Stop(context.Background()), model.ErrAlreadyStopped)
}

func TestRestartAfterStop(t *testing.T) {
	o, reg, b := newTestOrchestrator(t)
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Stop(context.Background()))

	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, StatusRunning, o.Status())

	// Admission and the bus both work again after the restart.
	require.NoError(t, reg.Register("acme", model.TierPro))
	_, err := reg.Connect("acme")
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), "orders.created", []byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, StatusStopped, o.Status())
}

func TestStopDrainsConnections(t *testing.T) {
	o, reg, _ := newTestOrchestrator(t)
	require.NoError(t, o.Start(context.Background()))

	require.NoError(t, reg.Register("acme", model.TierPro))
	conn, err := reg.Connect("acme")
	require.NoError(t, err)

	require.NoError(t, o.Stop(context.Background()))

	select {
	case <-conn.Done():
	default:
		t.Fatal("connection survived drain")
	}
	_, err = reg.Connect("acme")
	assert.ErrorIs(t, err, model.ErrDraining)
}

func TestHealthBeatPublishes(t *testing.T) {
	o, _, b := newTestOrchestrator(t)

	seen := make(chan struct{}, 16)
	_, err := b.Subscribe("health-check", func(context.Context, event.Event) error {
		select {
		case seen <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, o.Start(context.Background()))
	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("no health-check event within deadline")
	}
	require.NoError(t, o.Stop(context.Background()))
}

func TestIngestChangeRequiresRunning(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	err := o.IngestChange(context.Background(), "table.users.updated", []byte(`{}`), "acme")
	assert.ErrorIs(t, err, model.ErrNotStarted)

	require.NoError(t, o.Start(context.Background()))
	assert.NoError(t, o.IngestChange(context.Background(), "table.users.updated", []byte(`{}`), "acme"))
}

func TestDestroyIsTerminal(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	require.NoError(t, o.Start(context.Background()))

	o.Destroy()
	assert.Equal(t, StatusDestroyed, o.Status())
	assert.ErrorIs(t, o.Start(context.Background()), model.ErrDestroyed)
	o.Destroy() // idempotent
}
