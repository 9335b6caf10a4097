package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/relay-service/internal/domain/event"
	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/ratelimit"
)

type recordedEvent struct {
	topic    string
	tenantID string
	payload  any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *recordingEmitter) Emit(topic, tenantID string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{topic, tenantID, payload})
}

func (e *recordingEmitter) topics() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.topic)
	}
	return out
}

func (e *recordingEmitter) count(topic string) int {
	n := 0
	for _, t := range e.topics() {
		if t == topic {
			n++
		}
	}
	return n
}

type openGate struct{}

func (openGate) Allow(string, ratelimit.Op) bool { return true }
func (openGate) Forget(string)                   {}

type closedGate struct{ openGate }

func (closedGate) Allow(string, ratelimit.Op) bool { return false }

func newTestRegistry(t *testing.T, emitter Emitter, opts ...Option) *Registry {
	t.Helper()
	if emitter == nil {
		emitter = NopEmitter{}
	}
	base := []Option{
		WithMailboxSize(8),
		WithBufferCeiling(1 << 16),
	}
	return New(slog.New(slog.DiscardHandler), openGate{}, emitter, append(base, opts...)...)
}

func seqIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%03d", prefix, n)
	}
}

func TestRegisterIdempotentAndTierChange(t *testing.T) {
	em := &recordingEmitter{}
	r := newTestRegistry(t, em)

	require.NoError(t, r.Register("acme", model.TierFree))
	require.NoError(t, r.Register("acme", model.TierFree))
	assert.Equal(t, 1, r.TotalTenants())
	assert.Zero(t, em.count(event.TenantTierChanged))

	require.NoError(t, r.Register("acme", model.TierPro))
	assert.Equal(t, 1, em.count(event.TenantTierChanged))

	m, err := r.Metrics("acme")
	require.NoError(t, err)
	assert.Equal(t, model.TierPro, m.Tier)
}

func TestRegisterRejectsUnknownTier(t *testing.T) {
	r := newTestRegistry(t, nil)
	assert.Error(t, r.Register("acme", model.Tier("platinum")))
	assert.Error(t, r.Register("", model.TierFree))
}

func TestConnectUnknownTenant(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, err := r.Connect("ghost")
	assert.ErrorIs(t, err, model.ErrUnknownTenant)
}

func TestConnectCapExceeded(t *testing.T) {
	em := &recordingEmitter{}
	r := newTestRegistry(t, em, WithTierLimits(model.TierLimits{model.TierFree: 2}))
	require.NoError(t, r.Register("acme", model.TierFree))

	_, err := r.Connect("acme")
	require.NoError(t, err)
	_, err = r.Connect("acme")
	require.NoError(t, err)

	_, err = r.Connect("acme")
	assert.ErrorIs(t, err, model.ErrCapExceeded)
	assert.Equal(t, 1, em.count(event.TenantThrottled))
	assert.Equal(t, 2, r.TotalConnections())
}

func TestConnectRateLimited(t *testing.T) {
	em := &recordingEmitter{}
	r := New(slog.New(slog.DiscardHandler), closedGate{}, em)
	require.NoError(t, r.Register("acme", model.TierPro))

	_, err := r.Connect("acme")
	assert.ErrorIs(t, err, model.ErrRateLimited)
	assert.Equal(t, 1, em.count(event.TenantThrottled))
}

func TestConnectWhileDraining(t *testing.T) {
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Register("acme", model.TierPro))
	r.SetDraining(true)

	_, err := r.Connect("acme")
	assert.ErrorIs(t, err, model.ErrDraining)
}

func TestUnknownTierFailsClosed(t *testing.T) {
	// A tier missing from the limits map admits zero connections.
	r := newTestRegistry(t, nil, WithTierLimits(model.TierLimits{model.TierPro: 5}))
	require.NoError(t, r.Register("acme", model.TierFree))

	_, err := r.Connect("acme")
	assert.ErrorIs(t, err, model.ErrCapExceeded)
}

func TestRelayToTarget(t *testing.T) {
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Register("acme", model.TierPro))

	a, err := r.Connect("acme")
	require.NoError(t, err)
	b, err := r.Connect("acme")
	require.NoError(t, err)

	res, err := r.RelayToTarget("acme", a.ID(), b.ID(), []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.False(t, res.Buffered)

	select {
	case d := <-b.Recv():
		assert.Equal(t, a.ID(), d.From)
		assert.Equal(t, []byte("hi"), d.Payload)
	default:
		t.Fatal("expected delivery in mailbox")
	}
}

func TestRelayUnknownSender(t *testing.T) {
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Register("acme", model.TierPro))

	_, err := r.RelayToTarget("acme", "nope", "also-nope", []byte("x"))
	assert.ErrorIs(t, err, model.ErrUnknownSender)
	_, err = r.RelayBroadcast("acme", "nope", []byte("x"))
	assert.ErrorIs(t, err, model.ErrUnknownSender)
}

func TestRelayAbsentTargetBuffers(t *testing.T) {
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Register("acme", model.TierPro))

	a, err := r.Connect("acme")
	require.NoError(t, err)

	res, err := r.RelayToTarget("acme", a.ID(), "not-here-yet", []byte("later"))
	require.NoError(t, err)
	assert.True(t, res.Buffered)
	assert.Zero(t, res.Delivered)
	assert.EqualValues(t, 5, r.TotalBufferedBytes())
}

func TestBufferCeilingAllOrNothing(t *testing.T) {
	r := newTestRegistry(t, nil, WithBufferCeiling(10))
	require.NoError(t, r.Register("acme", model.TierPro))

	a, err := r.Connect("acme")
	require.NoError(t, err)

	_, err = r.RelayToTarget("acme", a.ID(), "absent", []byte("12345678"))
	require.NoError(t, err)

	// 8 + 3 > 10: rejected whole, existing entries untouched.
	_, err = r.RelayToTarget("acme", a.ID(), "absent", []byte("abc"))
	assert.ErrorIs(t, err, model.ErrBufferFull)
	assert.EqualValues(t, 8, r.TotalBufferedBytes())
}

func TestBufferedFlushOnConnectPrecedesLive(t *testing.T) {
	ids := seqIDs("conn")
	r := newTestRegistry(t, nil, withIDFunc(ids))
	require.NoError(t, r.Register("acme", model.TierPro))

	sender, err := r.Connect("acme") // conn-001
	require.NoError(t, err)

	// Buffer two messages for the connection id that will be minted next.
	_, err = r.RelayToTarget("acme", sender.ID(), "conn-002", []byte("first"))
	require.NoError(t, err)
	_, err = r.RelayToTarget("acme", sender.ID(), "conn-002", []byte("second"))
	require.NoError(t, err)

	joined, err := r.Connect("acme") // conn-002, flush happens inside
	require.NoError(t, err)
	require.Equal(t, "conn-002", joined.ID())

	_, err = r.RelayToTarget("acme", sender.ID(), joined.ID(), []byte("live"))
	require.NoError(t, err)

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case d := <-joined.Recv():
			got = append(got, string(d.Payload))
		default:
			t.Fatalf("mailbox drained early at %d", i)
		}
	}
	assert.Equal(t, []string{"first", "second", "live"}, got)
	assert.Zero(t, r.TotalBufferedBytes())
}

func TestBroadcastSkipsSender(t *testing.T) {
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Register("acme", model.TierPro))

	a, _ := r.Connect("acme")
	b, _ := r.Connect("acme")
	c, _ := r.Connect("acme")

	res, err := r.RelayBroadcast("acme", a.ID(), []byte("fanout"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)

	assert.Len(t, a.Recv(), 0)
	assert.Len(t, b.Recv(), 1)
	assert.Len(t, c.Recv(), 1)
}

func TestBroadcastDefersSaturatedRecipient(t *testing.T) {
	r := newTestRegistry(t, nil, WithMailboxSize(1))
	require.NoError(t, r.Register("acme", model.TierPro))

	a, _ := r.Connect("acme")
	b, _ := r.Connect("acme")

	// Fill b's single-slot mailbox.
	_, err := r.RelayToTarget("acme", a.ID(), b.ID(), []byte("fill"))
	require.NoError(t, err)

	res, err := r.RelayBroadcast("acme", a.ID(), []byte("next"))
	require.NoError(t, err)
	assert.Zero(t, res.Delivered)
	assert.Equal(t, 1, res.Deferred)
	assert.True(t, res.Buffered)
}

func TestSweepBufferTTL(t *testing.T) {
	now := time.Now()
	em := &recordingEmitter{}
	r := newTestRegistry(t, em, withClock(func() time.Time { return now }))
	require.NoError(t, r.Register("acme", model.TierPro))

	a, _ := r.Connect("acme")
	_, err := r.RelayToTarget("acme", a.ID(), "absent", []byte("stale"))
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	expired := r.SweepBufferTTL(5 * time.Minute)
	assert.Equal(t, 1, expired)
	assert.Zero(t, r.TotalBufferedBytes())
	assert.Equal(t, 1, em.count(event.BufferExpired))

	// Nothing left to expire.
	assert.Zero(t, r.SweepBufferTTL(5*time.Minute))
}

func TestSweepIdle(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(t, nil,
		withClock(func() time.Time { return now }),
		WithIdleTimeout(time.Minute),
	)
	require.NoError(t, r.Register("acme", model.TierPro))

	a, _ := r.Connect("acme")
	b, _ := r.Connect("acme")

	now = now.Add(2 * time.Minute)
	r.Touch("acme", b.ID())

	closed := r.SweepIdle()
	assert.Equal(t, 1, closed)

	_, ok := r.Conn("acme", a.ID())
	assert.False(t, ok)
	_, ok = r.Conn("acme", b.ID())
	assert.True(t, ok)

	select {
	case <-a.Done():
	default:
		t.Fatal("swept connection not closed")
	}
}

func TestRemoveClosesInIDOrder(t *testing.T) {
	ids := seqIDs("conn")
	em := &recordingEmitter{}
	r := newTestRegistry(t, em, withIDFunc(ids))
	require.NoError(t, r.Register("acme", model.TierPro))

	for i := 0; i < 3; i++ {
		_, err := r.Connect("acme")
		require.NoError(t, err)
	}

	require.NoError(t, r.Remove("acme"))
	assert.ErrorIs(t, r.Remove("acme"), model.ErrUnknownTenant)

	var disconnected []string
	for _, ev := range em.events {
		if ev.topic == event.ClientDisconnected {
			disconnected = append(disconnected, ev.payload.(*event.DisconnectedPayload).ConnectionID)
		}
	}
	assert.Equal(t, []string{"conn-001", "conn-002", "conn-003"}, disconnected)

	last := em.events[len(em.events)-1]
	assert.Equal(t, event.TenantRemoved, last.topic)
	assert.Zero(t, r.TotalTenants())
}

func TestDisconnectEmitsReason(t *testing.T) {
	em := &recordingEmitter{}
	r := newTestRegistry(t, em)
	require.NoError(t, r.Register("acme", model.TierPro))

	a, _ := r.Connect("acme")
	require.NoError(t, r.Disconnect("acme", a.ID(), "bye"))
	assert.ErrorIs(t, r.Disconnect("acme", a.ID(), "bye"), model.ErrUnknownSender)

	found := false
	for _, ev := range em.events {
		if ev.topic == event.ClientDisconnected {
			found = true
			assert.Equal(t, "bye", ev.payload.(*event.DisconnectedPayload).Reason)
		}
	}
	assert.True(t, found)
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Register("a", model.TierPro))
	require.NoError(t, r.Register("b", model.TierPro))
	c1, _ := r.Connect("a")
	c2, _ := r.Connect("b")

	r.CloseAll("shutdown")
	assert.Zero(t, r.TotalConnections())
	for _, c := range []*Connection{c1, c2} {
		select {
		case <-c.Done():
		default:
			t.Fatal("connection left open")
		}
	}
}

func TestConnectionsSorted(t *testing.T) {
	ids := seqIDs("conn")
	r := newTestRegistry(t, nil, withIDFunc(ids))
	require.NoError(t, r.Register("acme", model.TierPro))
	for i := 0; i < 3; i++ {
		_, err := r.Connect("acme")
		require.NoError(t, err)
	}

	infos, err := r.Connections("acme")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "conn-001", infos[0].ID)
	assert.Equal(t, "conn-003", infos[2].ID)
}
