package registry

import (
	"time"

	"github.com/webitel/relay-service/internal/domain/event"
	"github.com/webitel/relay-service/internal/domain/model"
)

// Relay state transitions. These run entirely under the owning tenant's
// monitor so that target resolution, mailbox handoff, and buffering are
// atomic with respect to joins: a buffered flush on Connect can never
// interleave with a live delivery to the same target.

// RelayToTarget delivers payload to one connection. A present target
// gets a mailbox handoff; a saturated mailbox defers into the buffer;
// an absent target buffers outright. Buffering is all-or-nothing under
// the per-tenant byte ceiling.
func (r *Registry) RelayToTarget(tenantID, senderID, targetID string, payload []byte) (model.RelayResult, error) {
	t, ok := r.lookup(tenantID)
	if !ok {
		return model.RelayResult{}, model.ErrUnknownTenant
	}
	now := r.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	sender, ok := t.conns[senderID]
	if !ok {
		return model.RelayResult{}, model.ErrUnknownSender
	}

	var res model.RelayResult
	if target, present := t.conns[targetID]; present {
		if target.Deliver(model.Delivery{From: senderID, Payload: payload, EnqueuedAt: now}) {
			res.Delivered = 1
			target.credit(len(payload), now)
		} else {
			// Transport saturation: defer into the buffer.
			res.Deferred = 1
			if err := t.buffer.enqueue(targetID, payload, now); err != nil {
				return res, err
			}
			res.Buffered = true
		}
	} else {
		if err := t.buffer.enqueue(targetID, payload, now); err != nil {
			return res, err
		}
		res.Buffered = true
	}

	sender.touch(now)
	sender.messagesRelayed.Add(1)
	sender.bytesRelayed.Add(uint64(len(payload)))
	t.messagesRelayed++
	t.bytesRelayed += uint64(len(payload))
	t.lastActivityAt = now
	return res, nil
}

// RelayBroadcast fans payload out to every connection in the tenant
// except the sender. Saturated recipients are deferred into the buffer;
// a buffer overflow while deferring drops that copy and is reported in
// DroppedBytes rather than failing the whole broadcast.
func (r *Registry) RelayBroadcast(tenantID, senderID string, payload []byte) (model.RelayResult, error) {
	t, ok := r.lookup(tenantID)
	if !ok {
		return model.RelayResult{}, model.ErrUnknownTenant
	}
	now := r.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	sender, ok := t.conns[senderID]
	if !ok {
		return model.RelayResult{}, model.ErrUnknownSender
	}

	var res model.RelayResult
	for _, id := range t.sortedConnIDs() {
		if id == senderID {
			continue
		}
		c := t.conns[id]
		if c.Deliver(model.Delivery{From: senderID, Payload: payload, EnqueuedAt: now}) {
			res.Delivered++
			c.credit(len(payload), now)
			continue
		}
		res.Deferred++
		if err := t.buffer.enqueue(id, payload, now); err != nil {
			res.DroppedBytes += len(payload)
		} else {
			res.Buffered = true
		}
	}

	sender.touch(now)
	sender.messagesRelayed.Add(1)
	sender.bytesRelayed.Add(uint64(len(payload)))
	t.messagesRelayed++
	t.bytesRelayed += uint64(len(payload))
	t.lastActivityAt = now
	return res, nil
}

// SweepBufferTTL evicts buffered entries whose head aged past ttl,
// emitting one buffer-expired event per affected tenant.
func (r *Registry) SweepBufferTTL(ttl time.Duration) int {
	r.mu.RLock()
	tenants := make([]*tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		tenants = append(tenants, t)
	}
	r.mu.RUnlock()

	total := 0
	now := r.now()
	for _, t := range tenants {
		t.mu.Lock()
		count, bytes := t.buffer.expire(ttl, now)
		t.mu.Unlock()
		if count == 0 {
			continue
		}
		total += count
		r.emitter.Emit(event.BufferExpired, t.id, &event.BufferExpiredPayload{
			TenantID:     t.id,
			ExpiredCount: count,
			ExpiredBytes: bytes,
		})
	}
	return total
}
