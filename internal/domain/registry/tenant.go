package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/webitel/relay-service/internal/domain/model"
)

// tenant is the isolation domain record: connection set, buffered
// queue, and counters, all mutated under the tenant's own monitor.
// No cross-tenant lock is ever held at the same time.
type tenant struct {
	id string

	mu     sync.RWMutex
	tier   model.Tier
	conns  map[string]*Connection
	buffer *buffer

	messagesRelayed uint64
	bytesRelayed    uint64
	lastActivityAt  time.Time
}

func newTenant(id string, tier model.Tier, bufferCeiling int64, now time.Time) *tenant {
	return &tenant{
		id:             id,
		tier:           tier,
		conns:          make(map[string]*Connection),
		buffer:         newBuffer(bufferCeiling),
		lastActivityAt: now,
	}
}

func (t *tenant) metrics() model.TenantMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return model.TenantMetrics{
		TenantID:          t.id,
		Tier:              t.tier,
		ActiveConnections: len(t.conns),
		BufferedMessages:  t.buffer.len(),
		BufferedBytes:     t.buffer.size(),
		MessagesRelayed:   t.messagesRelayed,
		BytesRelayed:      t.bytesRelayed,
		LastActivityAt:    t.lastActivityAt,
	}
}

func (t *tenant) credit(messages int, bytes int, now time.Time) {
	t.mu.Lock()
	t.messagesRelayed += uint64(messages)
	t.bytesRelayed += uint64(bytes)
	t.lastActivityAt = now
	t.mu.Unlock()
}

// sortedConnIDs returns connection ids in lexical order. ULIDs sort by
// creation time, so iteration order on removal is deterministic.
func (t *tenant) sortedConnIDs() []string {
	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *tenant) connection(id string) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

// peers returns every connection except the named one.
func (t *tenant) peers(except string) []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Connection, 0, len(t.conns))
	for id, c := range t.conns {
		if id != except {
			out = append(out, c)
		}
	}
	return out
}
