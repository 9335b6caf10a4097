package dlq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/relay-service/internal/domain/event"
)

func ev(topic string, seq uint64) event.Event {
	return event.Event{Topic: topic, Sequence: seq}
}

func TestOfferAndSnapshot(t *testing.T) {
	q := New(8)

	q.Offer(ev("a", 1), "hook-1", KindTimeout, "deadline", 3)
	q.Offer(ev("a", 2), "hook-1", KindServerError, "503", 5)

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, map[string]int{"Timeout": 1, "ServerError": 1}, q.SizeByKind())

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, KindTimeout, snap[0].Kind)
	assert.Equal(t, "hook-1", snap[0].Target)
	assert.Equal(t, 3, snap[0].Attempts)
}

func TestOfferUpdatesSameDeliveryInPlace(t *testing.T) {
	q := New(8)

	q.Offer(ev("a", 1), "hook-1", KindServerError, "503", 2)
	q.Offer(ev("a", 1), "hook-1", KindExhausted, "gave up", 5)

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, map[string]int{"Exhausted": 1}, q.SizeByKind())

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 5, snap[0].Attempts)
	assert.Equal(t, "gave up", snap[0].LastError)
}

func TestCapacityEvictsOldest(t *testing.T) {
	q := New(2)

	q.Offer(ev("a", 1), "x", KindTimeout, "", 1)
	q.Offer(ev("a", 2), "x", KindTimeout, "", 1)
	q.Offer(ev("a", 3), "x", KindTimeout, "", 1)

	assert.Equal(t, 2, q.Len())
	assert.EqualValues(t, 1, q.Dropped())
	assert.Equal(t, map[string]int{"Timeout": 2}, q.SizeByKind())

	snap := q.Snapshot()
	assert.EqualValues(t, 2, snap[0].Event.Sequence)
	assert.EqualValues(t, 3, snap[1].Event.Sequence)
}

func TestSweepAged(t *testing.T) {
	now := time.Unix(1000, 0)
	q := New(8)
	q.now = func() time.Time { return now }

	q.Offer(ev("a", 1), "x", KindTimeout, "", 1)
	now = now.Add(2 * time.Hour)
	q.Offer(ev("a", 2), "x", KindTimeout, "", 1)

	removed := q.SweepAged(time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, q.Len())

	snap := q.Snapshot()
	require.Len(t, snap, 1)
	assert.EqualValues(t, 2, snap[0].Event.Sequence)
}
