package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(now *time.Time) *breaker {
	b := newBreaker(BreakerConfig{
		Window:       30 * time.Second,
		MinSamples:   4,
		ErrorRatePct: 50,
		Cooldown:     time.Minute,
		MaxCooldown:  4 * time.Minute,
	})
	b.now = func() time.Time { return *now }
	return b
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		assert.True(t, b.Allow())
		b.Record(false)
	}
	assert.Equal(t, CircuitClosed, b.State(), "three samples cannot trip MinSamples=4")
}

func TestBreakerTripsOverErrorRate(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTestBreaker(&now)

	// 3 failures out of 4: 75% > 50%.
	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)

	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerExactThresholdDoesNotTrip(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTestBreaker(&now)

	// Exactly 50% is not over the threshold.
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(true)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTestBreaker(&now)
	for i := 0; i < 4; i++ {
		b.Record(false)
	}
	assert.Equal(t, CircuitOpen, b.State())

	now = now.Add(61 * time.Second)
	assert.True(t, b.Allow(), "cool-down expired, one probe admitted")
	assert.Equal(t, CircuitHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe at a time")

	b.Record(true)
	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerFailedProbeDoublesCooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTestBreaker(&now)
	for i := 0; i < 4; i++ {
		b.Record(false)
	}

	// First probe after the 1m cool-down fails: cool-down doubles to 2m.
	now = now.Add(61 * time.Second)
	assert.True(t, b.Allow())
	b.Record(false)
	assert.Equal(t, CircuitOpen, b.State())

	now = now.Add(90 * time.Second)
	assert.False(t, b.Allow(), "2m cool-down not yet over")
	now = now.Add(31 * time.Second)
	assert.True(t, b.Allow())

	// Second failed probe: 4m, capped there on further failures.
	b.Record(false)
	now = now.Add(4*time.Minute + time.Second)
	assert.True(t, b.Allow())
	b.Record(false)
	assert.Equal(t, 4*time.Minute, b.cooldown, "cool-down capped at MaxCooldown")
}

func TestBreakerResetsAfterRecovery(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTestBreaker(&now)
	for i := 0; i < 4; i++ {
		b.Record(false)
	}
	now = now.Add(61 * time.Second)
	b.Allow()
	b.Record(false) // cooldown now 2m
	now = now.Add(2*time.Minute + time.Second)
	b.Allow()
	b.Record(true)

	// Recovery restores the base cool-down and clears old samples.
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, time.Minute, b.cooldown)
	b.Record(false)
	b.Record(false)
	b.Record(false)
	assert.Equal(t, CircuitClosed, b.State(), "old failure samples were cleared")
}

func TestBreakerWindowPrunesOldSamples(t *testing.T) {
	now := time.Unix(1000, 0)
	b := newTestBreaker(&now)

	b.Record(false)
	b.Record(false)
	b.Record(false)
	now = now.Add(time.Minute) // all three age out of the 30s window
	b.Record(false)
	assert.Equal(t, CircuitClosed, b.State(), "stale samples cannot trip")
}
