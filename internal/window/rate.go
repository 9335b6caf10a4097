package window

import (
	"sync"
	"time"
)

type sample struct {
	at    time.Time
	bytes int64
}

// RateWindow tracks timestamped samples for sliding-window rates
// (events/s, bytes/s) over a fixed span with millisecond granularity.
// Samples older than the span are pruned on every read and write.
type RateWindow struct {
	mu      sync.Mutex
	span    time.Duration
	samples []sample
	now     func() time.Time
}

func NewRateWindow(span time.Duration) *RateWindow {
	if span <= 0 {
		span = time.Minute
	}
	return &RateWindow{span: span, now: time.Now}
}

// Observe records one event of the given byte size at the current time.
func (w *RateWindow) Observe(bytes int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)
	w.samples = append(w.samples, sample{at: now, bytes: bytes})
}

// Rates returns (events per second, bytes per second) over the true
// elapsed window: the time since the oldest retained sample, capped at
// the configured span. An empty window yields zero rates.
func (w *RateWindow) Rates() (float64, float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)
	if len(w.samples) == 0 {
		return 0, 0
	}

	elapsed := now.Sub(w.samples[0].at)
	if elapsed > w.span {
		elapsed = w.span
	}
	if elapsed < time.Millisecond {
		elapsed = time.Millisecond
	}

	var bytes int64
	for _, s := range w.samples {
		bytes += s.bytes
	}
	secs := elapsed.Seconds()
	return float64(len(w.samples)) / secs, float64(bytes) / secs
}

// CountSince returns the number of samples recorded in the last d.
func (w *RateWindow) CountSince(d time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)
	cutoff := now.Add(-d)
	n := 0
	for i := len(w.samples) - 1; i >= 0; i-- {
		if w.samples[i].at.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

func (w *RateWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}
