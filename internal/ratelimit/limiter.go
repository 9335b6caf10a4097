// Package ratelimit provides per-tenant token buckets gating admission
// and fan-out.
package ratelimit

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Op names a rate-limited operation.
type Op string

const (
	OpConnect Op = "connect"
	OpPublish Op = "publish"
	OpFanout  Op = "fanout"
)

// Bucket configures one token bucket class.
type Bucket struct {
	PerSecond float64
	Burst     int
}

// Config maps operations to their bucket parameters. An operation absent
// from the map fails closed.
type Config map[Op]Bucket

// DefaultConfig returns permissive-but-bounded defaults.
func DefaultConfig() Config {
	return Config{
		OpConnect: {PerSecond: 10, Burst: 20},
		OpPublish: {PerSecond: 500, Burst: 1000},
		OpFanout:  {PerSecond: 100, Burst: 200},
	}
}

// Limiter keeps one token bucket per (tenant, op). Buckets live in an
// LRU table so tenants that go away stop costing memory.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewLimiter builds a limiter with room for maxTenants*len(cfg) buckets.
func NewLimiter(cfg Config, maxTenants int) *Limiter {
	if maxTenants < 1 {
		maxTenants = 1024
	}
	size := maxTenants * max(len(cfg), 1)
	buckets, _ := lru.New[string, *rate.Limiter](size)
	return &Limiter{cfg: cfg, buckets: buckets}
}

// Allow consumes one token from the tenant's bucket for op. Unknown
// operations are denied.
func (l *Limiter) Allow(tenantID string, op Op) bool {
	b, ok := l.cfg[op]
	if !ok {
		return false
	}

	key := fmt.Sprintf("%s/%s", tenantID, op)

	l.mu.Lock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(b.PerSecond), b.Burst)
		l.buckets.Add(key, lim)
	}
	l.mu.Unlock()

	return lim.Allow()
}

// Forget drops all buckets belonging to a tenant.
func (l *Limiter) Forget(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for op := range l.cfg {
		l.buckets.Remove(fmt.Sprintf("%s/%s", tenantID, op))
	}
}
