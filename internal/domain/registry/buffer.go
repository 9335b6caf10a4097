package registry

import (
	"time"

	"github.com/webitel/relay-service/internal/domain/model"
)

type bufferedMessage struct {
	target     string
	payload    []byte
	enqueuedAt time.Time
}

// buffer is the per-tenant FIFO of messages awaiting an absent target,
// bounded by total payload bytes. Not safe for concurrent use; callers
// hold the owning tenant's lock.
type buffer struct {
	entries []bufferedMessage
	bytes   int64
	ceiling int64
}

func newBuffer(ceiling int64) *buffer {
	return &buffer{ceiling: ceiling}
}

// enqueue appends one message, all-or-nothing under the byte ceiling.
func (b *buffer) enqueue(target string, payload []byte, now time.Time) error {
	if b.bytes+int64(len(payload)) > b.ceiling {
		return model.ErrBufferFull
	}
	b.entries = append(b.entries, bufferedMessage{
		target:     target,
		payload:    payload,
		enqueuedAt: now,
	})
	b.bytes += int64(len(payload))
	return nil
}

// takeFor removes and returns, in enqueue order, every entry addressed
// to target. Entries for other targets remain.
func (b *buffer) takeFor(target string) []bufferedMessage {
	var taken []bufferedMessage
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.target == target {
			taken = append(taken, e)
			b.bytes -= int64(len(e.payload))
		} else {
			kept = append(kept, e)
		}
	}
	b.entries = kept
	return taken
}

// expire drops entries whose head aged past ttl. Returns count and bytes
// dropped.
func (b *buffer) expire(ttl time.Duration, now time.Time) (int, int) {
	cutoff := now.Add(-ttl)
	i := 0
	bytes := 0
	for i < len(b.entries) && b.entries[i].enqueuedAt.Before(cutoff) {
		bytes += len(b.entries[i].payload)
		i++
	}
	if i == 0 {
		return 0, 0
	}
	b.entries = append(b.entries[:0], b.entries[i:]...)
	b.bytes -= int64(bytes)
	return i, bytes
}

func (b *buffer) len() int    { return len(b.entries) }
func (b *buffer) size() int64 { return b.bytes }

func (b *buffer) drop() {
	b.entries = nil
	b.bytes = 0
}
