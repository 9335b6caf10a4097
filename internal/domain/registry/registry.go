// Package registry owns all per-tenant state: tenant records, their
// connection sets, buffered-message queues, and counters. It is the
// single mediator between admission, relaying, and sweeps.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/relay-service/internal/domain/event"
	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/ratelimit"
)

// Emitter publishes lifecycle events. The bus adapter is wired in by
// the service layer; registry stays unaware of the bus itself.
type Emitter interface {
	Emit(topic, tenantID string, payload any)
}

// NopEmitter discards events. Used before the bus is wired and in tests.
type NopEmitter struct{}

func (NopEmitter) Emit(string, string, any) {}

// Admission gate for connect attempts.
type Gate interface {
	Allow(tenantID string, op ratelimit.Op) bool
	Forget(tenantID string)
}

// Registry implements the Tenant Registry and the Connection Manager.
type Registry struct {
	logger  *slog.Logger
	limits  model.TierLimits
	gate    Gate
	emitter Emitter

	bufferCeiling int64
	mailboxSize   int
	idleTimeout   time.Duration

	mu      sync.RWMutex
	tenants map[string]*tenant

	draining atomic.Bool
	now      func() time.Time
	newID    func() string
}

func New(logger *slog.Logger, gate Gate, emitter Emitter, opts ...Option) *Registry {
	r := &Registry{
		logger:        logger,
		limits:        model.DefaultTierLimits(),
		gate:          gate,
		emitter:       emitter,
		bufferCeiling: 10 << 20, // 10 MiB
		mailboxSize:   1024,
		idleTimeout:   5 * time.Minute,
		tenants:       make(map[string]*tenant),
		now:           time.Now,
		newID:         newConnectionID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetDraining flips the admission gate; while draining, Connect fails
// with Draining.
func (r *Registry) SetDraining(v bool) { r.draining.Store(v) }

// Register creates a tenant or, when called again with a different
// tier, updates it and emits tenant-tier-changed. Idempotent otherwise.
func (r *Registry) Register(tenantID string, tier model.Tier) error {
	if tenantID == "" {
		return fmt.Errorf("register: empty tenant id")
	}
	if !tier.Valid() {
		return fmt.Errorf("register %q: unknown tier %q", tenantID, tier)
	}

	r.mu.Lock()
	t, ok := r.tenants[tenantID]
	if !ok {
		r.tenants[tenantID] = newTenant(tenantID, tier, r.bufferCeiling, r.now())
		r.mu.Unlock()
		r.logger.Info("tenant registered",
			slog.String("tenant_id", tenantID),
			slog.String("tier", string(tier)),
		)
		return nil
	}
	r.mu.Unlock()

	t.mu.Lock()
	old := t.tier
	if old == tier {
		t.mu.Unlock()
		return nil
	}
	t.tier = tier
	t.mu.Unlock()

	r.logger.Info("tenant tier changed",
		slog.String("tenant_id", tenantID),
		slog.String("old", string(old)),
		slog.String("new", string(tier)),
	)
	r.emitter.Emit(event.TenantTierChanged, tenantID, &event.TierChangedPayload{
		TenantID: tenantID,
		OldTier:  string(old),
		NewTier:  string(tier),
	})
	return nil
}

// Remove destroys a tenant: closes every connection in deterministic id
// order, drops the buffered queue, and emits one client-disconnected
// per connection followed by tenant-removed.
func (r *Registry) Remove(tenantID string) error {
	r.mu.Lock()
	t, ok := r.tenants[tenantID]
	if !ok {
		r.mu.Unlock()
		return model.ErrUnknownTenant
	}
	delete(r.tenants, tenantID)
	r.mu.Unlock()

	t.mu.Lock()
	ids := t.sortedConnIDs()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		conns = append(conns, t.conns[id])
	}
	t.conns = make(map[string]*Connection)
	t.buffer.drop()
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
		r.emitter.Emit(event.ClientDisconnected, tenantID, &event.DisconnectedPayload{
			TenantID:     tenantID,
			ConnectionID: c.ID(),
			Reason:       "tenant-removed",
		})
	}
	r.emitter.Emit(event.TenantRemoved, tenantID, &event.TenantRemovedPayload{TenantID: tenantID})
	r.gate.Forget(tenantID)

	r.logger.Info("tenant removed",
		slog.String("tenant_id", tenantID),
		slog.Int("closed_connections", len(conns)),
	)
	return nil
}

// Metrics returns a consistent point-in-time snapshot for one tenant.
func (r *Registry) Metrics(tenantID string) (model.TenantMetrics, error) {
	t, ok := r.lookup(tenantID)
	if !ok {
		return model.TenantMetrics{}, model.ErrUnknownTenant
	}
	return t.metrics(), nil
}

// List returns metrics for every tenant, ordered by id.
func (r *Registry) List() []model.TenantMetrics {
	r.mu.RLock()
	tenants := make([]*tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		tenants = append(tenants, t)
	}
	r.mu.RUnlock()

	out := make([]model.TenantMetrics, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, t.metrics())
	}
	sortMetrics(out)
	return out
}

// Connect admits a new connection for the tenant, flushing any buffered
// messages addressed to the fresh connection id before any live
// delivery can reach it.
func (r *Registry) Connect(tenantID string) (*Connection, error) {
	if r.draining.Load() {
		return nil, model.ErrDraining
	}

	t, ok := r.lookup(tenantID)
	if !ok {
		return nil, model.ErrUnknownTenant
	}

	if !r.gate.Allow(tenantID, ratelimit.OpConnect) {
		r.emitter.Emit(event.TenantThrottled, tenantID, &event.ThrottledPayload{
			TenantID: tenantID,
			Reason:   event.ThrottleReasonRate,
		})
		return nil, model.ErrRateLimited
	}

	now := r.now()
	connID := r.newID()
	conn := newConnection(connID, tenantID, r.mailboxSize, now)

	t.mu.Lock()
	limit := r.limits.Limit(t.tier)
	if len(t.conns) >= limit {
		t.mu.Unlock()
		r.emitter.Emit(event.TenantThrottled, tenantID, &event.ThrottledPayload{
			TenantID: tenantID,
			Reason:   event.ThrottleReasonMaxConnections,
			Limit:    limit,
		})
		return nil, fmt.Errorf("%w: limit %d", model.ErrCapExceeded, limit)
	}
	t.conns[connID] = conn
	t.lastActivityAt = now

	// Flush while holding the tenant lock: live relays resolve targets
	// under the same lock, so buffered entries land in the mailbox
	// strictly before any message relayed after the join.
	flushed := t.buffer.takeFor(connID)
	requeued := 0
	for i, bm := range flushed {
		if !conn.Deliver(model.Delivery{Payload: bm.payload, EnqueuedAt: bm.enqueuedAt}) {
			// Mailbox saturated mid-flush: keep the rest buffered.
			for _, rest := range flushed[i:] {
				_ = t.buffer.enqueue(rest.target, rest.payload, rest.enqueuedAt)
				requeued++
			}
			break
		}
		t.messagesRelayed++
		t.bytesRelayed += uint64(len(bm.payload))
		conn.credit(len(bm.payload), now)
	}
	t.mu.Unlock()

	r.emitter.Emit(event.ClientConnected, tenantID, &event.ConnectedPayload{
		TenantID:     tenantID,
		ConnectionID: connID,
	})
	r.logger.Debug("connection admitted",
		slog.String("tenant_id", tenantID),
		slog.String("conn_id", connID),
		slog.Int("flushed", len(flushed)-requeued),
	)
	return conn, nil
}

// Disconnect closes one connection and detaches it from its tenant.
func (r *Registry) Disconnect(tenantID, connID, reason string) error {
	t, ok := r.lookup(tenantID)
	if !ok {
		return model.ErrUnknownTenant
	}

	t.mu.Lock()
	conn, ok := t.conns[connID]
	if !ok {
		t.mu.Unlock()
		return model.ErrUnknownSender
	}
	delete(t.conns, connID)
	t.lastActivityAt = r.now()
	t.mu.Unlock()

	conn.Close()
	r.emitter.Emit(event.ClientDisconnected, tenantID, &event.DisconnectedPayload{
		TenantID:     tenantID,
		ConnectionID: connID,
		Reason:       reason,
	})
	return nil
}

// Touch refreshes the connection's last-message timestamp.
func (r *Registry) Touch(tenantID, connID string) {
	t, ok := r.lookup(tenantID)
	if !ok {
		return
	}
	if conn, ok := t.connection(connID); ok {
		now := r.now()
		conn.touch(now)
		t.mu.Lock()
		t.lastActivityAt = now
		t.mu.Unlock()
	}
}

// SweepIdle disconnects connections whose last activity exceeds the
// idle timeout. Connections that never relayed use connect time.
func (r *Registry) SweepIdle() int {
	cutoff := r.now().Add(-r.idleTimeout)

	type victim struct{ tenantID, connID string }
	var victims []victim

	r.mu.RLock()
	for _, t := range r.tenants {
		t.mu.RLock()
		for id, c := range t.conns {
			if c.lastActivity().Before(cutoff) {
				victims = append(victims, victim{t.id, id})
			}
		}
		t.mu.RUnlock()
	}
	r.mu.RUnlock()

	for _, v := range victims {
		_ = r.Disconnect(v.tenantID, v.connID, "idle")
	}
	if len(victims) > 0 {
		r.logger.Info("idle sweep", slog.Int("closed", len(victims)))
	}
	return len(victims)
}

// Conn resolves one connection within a tenant.
func (r *Registry) Conn(tenantID, connID string) (*Connection, bool) {
	t, ok := r.lookup(tenantID)
	if !ok {
		return nil, false
	}
	return t.connection(connID)
}

// Connections lists live connections of a tenant.
func (r *Registry) Connections(tenantID string) ([]model.ConnectionInfo, error) {
	t, ok := r.lookup(tenantID)
	if !ok {
		return nil, model.ErrUnknownTenant
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.ConnectionInfo, 0, len(t.conns))
	for _, id := range t.sortedConnIDs() {
		out = append(out, t.conns[id].Info())
	}
	return out, nil
}

// CloseAll closes every connection, tenant by tenant, in deterministic
// order. Used by the orchestrator on drain.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sortStrings(ids)

	for _, tenantID := range ids {
		t, ok := r.lookup(tenantID)
		if !ok {
			continue
		}
		t.mu.Lock()
		connIDs := t.sortedConnIDs()
		conns := make([]*Connection, 0, len(connIDs))
		for _, id := range connIDs {
			conns = append(conns, t.conns[id])
		}
		t.conns = make(map[string]*Connection)
		t.mu.Unlock()

		for _, c := range conns {
			c.Close()
			r.emitter.Emit(event.ClientDisconnected, tenantID, &event.DisconnectedPayload{
				TenantID:     tenantID,
				ConnectionID: c.ID(),
				Reason:       reason,
			})
		}
	}
}

func (r *Registry) lookup(tenantID string) (*tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	return t, ok
}

// TotalTenants and TotalConnections feed telemetry.
func (r *Registry) TotalTenants() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	tenants := make([]*tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		tenants = append(tenants, t)
	}
	r.mu.RUnlock()

	total := 0
	for _, t := range tenants {
		t.mu.RLock()
		total += len(t.conns)
		t.mu.RUnlock()
	}
	return total
}

// TotalBufferedBytes sums buffered bytes across tenants.
func (r *Registry) TotalBufferedBytes() int64 {
	r.mu.RLock()
	tenants := make([]*tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		tenants = append(tenants, t)
	}
	r.mu.RUnlock()

	var total int64
	for _, t := range tenants {
		t.mu.RLock()
		total += t.buffer.size()
		t.mu.RUnlock()
	}
	return total
}

// BufferCeiling returns the configured per-tenant buffer bound.
func (r *Registry) BufferCeiling() int64 { return r.bufferCeiling }

func sortStrings(s []string) { sort.Strings(s) }

func sortMetrics(m []model.TenantMetrics) {
	sort.Slice(m, func(i, j int) bool { return m[i].TenantID < m[j].TenantID })
}
