package webhook

import (
	"sync"
	"time"
)

// CircuitState is the per-endpoint breaker state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes the rolling-window circuit breaker.
type BreakerConfig struct {
	Window       time.Duration // rolling sample window
	MinSamples   int           // samples required before tripping
	ErrorRatePct float64       // trip threshold
	Cooldown     time.Duration // initial open duration
	MaxCooldown  time.Duration // cap for doubled cool-downs
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:       30 * time.Second,
		MinSamples:   10,
		ErrorRatePct: 50,
		Cooldown:     60 * time.Second,
		MaxCooldown:  10 * time.Minute,
	}
}

type breakerSample struct {
	at time.Time
	ok bool
}

// breaker short-circuits delivery to a known-bad endpoint. While open,
// new deliveries are dead-lettered immediately; on cool-down expiry a
// single probe is admitted. Probe failure doubles the cool-down up to
// the cap; probe success closes the circuit and resets it.
type breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    CircuitState
	samples  []breakerSample
	openedAt time.Time
	cooldown time.Duration
	probing  bool
	now      func() time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	return &breaker{
		cfg:      cfg,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
}

// Allow reports whether an attempt may proceed now.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return true
	default: // half-open: one probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Record feeds one attempt outcome into the breaker. Client-side
// failures must not be recorded; only outcomes that say something about
// the endpoint's health belong here.
func (b *breaker) Record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case CircuitHalfOpen:
		b.probing = false
		if ok {
			b.state = CircuitClosed
			b.cooldown = b.cfg.Cooldown
			b.samples = b.samples[:0]
			return
		}
		b.state = CircuitOpen
		b.openedAt = now
		b.cooldown = min(2*b.cooldown, b.cfg.MaxCooldown)

	case CircuitClosed:
		b.samples = append(b.samples, breakerSample{at: now, ok: ok})
		b.pruneLocked(now)
		if b.shouldTripLocked() {
			b.state = CircuitOpen
			b.openedAt = now
			b.cooldown = b.cfg.Cooldown
		}

	case CircuitOpen:
		// Late result from an attempt started before the trip.
	}
}

func (b *breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}

func (b *breaker) shouldTripLocked() bool {
	if len(b.samples) < b.cfg.MinSamples {
		return false
	}
	failures := 0
	for _, s := range b.samples {
		if !s.ok {
			failures++
		}
	}
	rate := float64(failures) / float64(len(b.samples)) * 100
	return rate > b.cfg.ErrorRatePct
}
