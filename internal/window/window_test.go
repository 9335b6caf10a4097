package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingAppendAndSnapshot(t *testing.T) {
	r := NewRing[int](3)
	assert.Zero(t, r.Len())

	assert.False(t, r.Append(1))
	assert.False(t, r.Append(2))
	assert.False(t, r.Append(3))
	assert.Equal(t, []int{1, 2, 3}, r.Snapshot())

	assert.True(t, r.Append(4), "fourth append evicts")
	assert.Equal(t, []int{2, 3, 4}, r.Snapshot())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
}

func TestRingDoEarlyStop(t *testing.T) {
	r := NewRing[int](4)
	for i := 1; i <= 4; i++ {
		r.Append(i)
	}

	var seen []int
	r.Do(func(v int) bool {
		seen = append(seen, v)
		return v < 2
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Append("a")
	r.Append("b")
	assert.Equal(t, []string{"b"}, r.Snapshot())
}

func TestRateWindowRates(t *testing.T) {
	now := time.Unix(1000, 0)
	w := NewRateWindow(time.Minute)
	w.now = func() time.Time { return now }

	r, b := w.Rates()
	assert.Zero(t, r)
	assert.Zero(t, b)

	// 10 events of 100 bytes over 10 seconds.
	for i := 0; i < 10; i++ {
		w.Observe(100)
		now = now.Add(time.Second)
	}

	// True elapsed window is 10s, not the 60s span.
	rate, bytes := w.Rates()
	assert.InDelta(t, 1.0, rate, 0.01)
	assert.InDelta(t, 100.0, bytes, 1.0)
}

func TestRateWindowPrunes(t *testing.T) {
	now := time.Unix(1000, 0)
	w := NewRateWindow(time.Minute)
	w.now = func() time.Time { return now }

	w.Observe(1)
	now = now.Add(2 * time.Minute)
	rate, _ := w.Rates()
	assert.Zero(t, rate, "stale samples pruned")
}

func TestRateWindowCountSince(t *testing.T) {
	now := time.Unix(1000, 0)
	w := NewRateWindow(time.Minute)
	w.now = func() time.Time { return now }

	w.Observe(1)
	now = now.Add(30 * time.Second)
	w.Observe(1)
	now = now.Add(10 * time.Second)

	require.Equal(t, 1, w.CountSince(15*time.Second))
	require.Equal(t, 2, w.CountSince(time.Minute))
}
