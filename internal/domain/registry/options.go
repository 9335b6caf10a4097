package registry

import (
	"time"

	"github.com/webitel/relay-service/internal/domain/model"
)

// Option configures the Registry.
type Option func(*Registry)

// WithTierLimits overrides the per-tier connection caps. Tiers missing
// from the map fail closed.
func WithTierLimits(limits model.TierLimits) Option {
	return func(r *Registry) {
		if limits != nil {
			r.limits = limits
		}
	}
}

// WithBufferCeiling sets the per-tenant buffered-message byte bound.
func WithBufferCeiling(bytes int64) Option {
	return func(r *Registry) {
		if bytes > 0 {
			r.bufferCeiling = bytes
		}
	}
}

// WithMailboxSize sets the per-connection mailbox capacity: the
// backpressure threshold between the router and a transport.
func WithMailboxSize(size int) Option {
	return func(r *Registry) {
		if size > 0 {
			r.mailboxSize = size
		}
	}
}

// WithIdleTimeout defines the quiet period after which a connection is
// swept as idle.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// withClock and withIDFunc pin time and id generation in tests.
func withClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func withIDFunc(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}
