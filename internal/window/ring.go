// Package window provides bounded rings for sliding-window metrics and
// bounded event replay. Nothing here spawns goroutines; pruning happens
// on read and on write.
package window

import "sync"

// Ring is a bounded circular store retaining the most recent entries.
// Appending beyond capacity overwrites the oldest entry.
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int // index of the next write
	count int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append stores v, evicting the oldest entry when full. It reports
// whether an eviction happened.
func (r *Ring[T]) Append(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.count == len(r.buf)
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if !evicted {
		r.count++
	}
	return evicted
}

// Len returns the number of retained entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Snapshot returns retained entries oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := range r.count {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Do calls fn for each retained entry oldest first, stopping early if fn
// returns false. The lock is held for the duration; fn must not block.
func (r *Ring[T]) Do(fn func(T) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := range r.count {
		if !fn(r.buf[(start+i)%len(r.buf)]) {
			return
		}
	}
}
