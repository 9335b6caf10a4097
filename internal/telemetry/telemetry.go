// Package telemetry aggregates queryable snapshots of the relay and
// exports prometheus collectors. All window pruning happens on read and
// write paths; nothing here runs its own goroutine.
package telemetry

import (
	"time"

	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/window"
)

// RegistrySource is the registry slice telemetry reads.
type RegistrySource interface {
	TotalTenants() int
	TotalConnections() int
	TotalBufferedBytes() int64
	BufferCeiling() int64
	List() []model.TenantMetrics
}

// BusSource reports bus counters.
type BusSource interface {
	Stats() model.BusStats
}

// WebhookSource reports per-registration delivery outcomes.
type WebhookSource interface {
	Stats(id string) []model.WebhookStats
}

// DLQSource reports dead-letter sizes.
type DLQSource interface {
	SizeByKind() map[string]int
}

// Collector assembles point-in-time snapshots.
type Collector struct {
	registry RegistrySource
	bus      BusSource
	webhooks WebhookSource
	dead     DLQSource
	relayWin *window.RateWindow
	status   func() string

	startedAt time.Time
	now       func() time.Time
}

func NewCollector(
	registry RegistrySource,
	bus BusSource,
	webhooks WebhookSource,
	dead DLQSource,
	relayWin *window.RateWindow,
	status func() string,
) *Collector {
	return &Collector{
		registry:  registry,
		bus:       bus,
		webhooks:  webhooks,
		dead:      dead,
		relayWin:  relayWin,
		status:    status,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Snapshot returns the full telemetry export. Buffer utilization is
// sum(buffered bytes) / (tenants x messageBufferBytes); an empty
// deployment reads zero.
func (c *Collector) Snapshot(includeTenants bool) model.Snapshot {
	msgRate, byteRate := c.relayWin.Rates()

	tenants := c.registry.TotalTenants()
	utilization := 0.0
	if tenants > 0 {
		denom := float64(tenants) * float64(c.registry.BufferCeiling())
		if denom > 0 {
			utilization = float64(c.registry.TotalBufferedBytes()) / denom
		}
	}

	snap := model.Snapshot{
		Status:            c.status(),
		TotalTenants:      tenants,
		TotalConnections:  c.registry.TotalConnections(),
		MessagesPerSecond: msgRate,
		BytesPerSecond:    byteRate,
		BufferUtilization: utilization,
		UptimeMs:          c.now().Sub(c.startedAt).Milliseconds(),
		DLQSizeByKind:     c.dead.SizeByKind(),
		Webhooks:          c.webhooks.Stats(""),
		Bus:               c.bus.Stats(),
	}
	if includeTenants {
		snap.Tenants = c.registry.List()
	}
	return snap
}
