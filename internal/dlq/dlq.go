// Package dlq implements the dead-letter queue shared by the event bus
// and the webhook dispatcher: the terminal resting place for events
// whose delivery has been given up on.
package dlq

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/relay-service/internal/domain/event"
)

// Kind classifies why an entry was dead-lettered.
type Kind string

const (
	KindHandlerError     Kind = "HandlerError"
	KindClientError      Kind = "ClientError"
	KindServerError      Kind = "ServerError"
	KindTimeout          Kind = "Timeout"
	KindCircuitOpen      Kind = "CircuitOpen"
	KindExhausted        Kind = "Exhausted"
	KindDeadlineExceeded Kind = "DeadlineExceeded"
)

// Entry records one abandoned delivery. Keyed by (target, sequence):
// repeated failures of the same delivery update the entry in place.
type Entry struct {
	Event       event.Event `json:"event"`
	Target      string      `json:"target"` // subscription id or webhook id
	Kind        Kind        `json:"kind"`
	LastError   string      `json:"last_error,omitempty"`
	Attempts    int         `json:"attempts"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastAttempt time.Time   `json:"last_attempt"`
}

// Queue is a bounded ring of dead-letter entries. Exceeding capacity
// evicts the oldest entry and bumps the drop counter.
type Queue struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
	byKind  map[Kind]int
	dropped uint64
	now     func() time.Time
}

func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		byKind: make(map[Kind]int),
		now:    time.Now,
	}
	// Eviction callback keeps the per-kind gauge accurate when the ring
	// wraps.
	q.entries, _ = lru.NewWithEvict(capacity, func(_ string, e *Entry) {
		q.byKind[e.Kind]--
		if q.byKind[e.Kind] <= 0 {
			delete(q.byKind, e.Kind)
		}
	})
	return q
}

func key(target string, seq uint64) string {
	return fmt.Sprintf("%s#%d", target, seq)
}

// Offer records a failed delivery. An existing entry for the same
// (target, sequence) is updated rather than duplicated.
func (q *Queue) Offer(ev event.Event, target string, kind Kind, lastErr string, attempts int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	k := key(target, ev.Sequence)
	if e, ok := q.entries.Get(k); ok {
		q.byKind[e.Kind]--
		if q.byKind[e.Kind] <= 0 {
			delete(q.byKind, e.Kind)
		}
		e.Kind = kind
		e.LastError = lastErr
		e.Attempts = attempts
		e.LastAttempt = now
		q.byKind[kind]++
		return
	}

	evicted := q.entries.Add(k, &Entry{
		Event:       ev,
		Target:      target,
		Kind:        kind,
		LastError:   lastErr,
		Attempts:    attempts,
		FirstSeen:   now,
		LastAttempt: now,
	})
	if evicted {
		q.dropped++
	}
	q.byKind[kind]++
}

// Len returns the number of retained entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Dropped returns how many entries were evicted by capacity pressure.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// SizeByKind returns a copy of the per-kind entry counts.
func (q *Queue) SizeByKind() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]int, len(q.byKind))
	for k, n := range q.byKind {
		out[string(k)] = n
	}
	return out
}

// Snapshot returns retained entries oldest first. Readers get copies.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := q.entries.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := q.entries.Peek(k); ok {
			out = append(out, *e)
		}
	}
	return out
}

// SweepAged removes entries whose last attempt is older than maxAge.
// Returns the number removed.
func (q *Queue) SweepAged(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-maxAge)
	removed := 0
	for _, k := range q.entries.Keys() {
		e, ok := q.entries.Peek(k)
		if !ok || !e.LastAttempt.Before(cutoff) {
			continue
		}
		q.entries.Remove(k)
		removed++
	}
	return removed
}
