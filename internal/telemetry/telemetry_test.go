package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/window"
)

type fakeRegistry struct {
	tenants  int
	conns    int
	buffered int64
	ceiling  int64
}

func (f fakeRegistry) TotalTenants() int           { return f.tenants }
func (f fakeRegistry) TotalConnections() int       { return f.conns }
func (f fakeRegistry) TotalBufferedBytes() int64   { return f.buffered }
func (f fakeRegistry) BufferCeiling() int64        { return f.ceiling }
func (f fakeRegistry) List() []model.TenantMetrics {
	return []model.TenantMetrics{{TenantID: "acme"}}
}

type fakeBus struct{}

func (fakeBus) Stats() model.BusStats { return model.BusStats{Published: 42} }

type fakeWebhooks struct{}

func (fakeWebhooks) Stats(string) []model.WebhookStats {
	return []model.WebhookStats{{RegistrationID: "w1"}}
}

type fakeDLQ struct{}

func (fakeDLQ) SizeByKind() map[string]int { return map[string]int{"Timeout": 3} }

func newTestCollector(reg fakeRegistry) *Collector {
	win := window.NewRateWindow(time.Minute)
	return NewCollector(reg, fakeBus{}, fakeWebhooks{}, fakeDLQ{}, win, func() string { return "running" })
}

func TestSnapshot(t *testing.T) {
	c := newTestCollector(fakeRegistry{tenants: 4, conns: 9, buffered: 2 << 20, ceiling: 10 << 20})

	snap := c.Snapshot(false)
	assert.Equal(t, "running", snap.Status)
	assert.Equal(t, 4, snap.TotalTenants)
	assert.Equal(t, 9, snap.TotalConnections)
	assert.EqualValues(t, 42, snap.Bus.Published)
	assert.Equal(t, 3, snap.DLQSizeByKind["Timeout"])
	assert.Empty(t, snap.Tenants)

	// 2 MiB buffered over 4 tenants x 10 MiB ceiling.
	assert.InDelta(t, float64(2<<20)/float64(4*(10<<20)), snap.BufferUtilization, 1e-9)
}

func TestSnapshotIncludesTenantsOnRequest(t *testing.T) {
	c := newTestCollector(fakeRegistry{tenants: 1, ceiling: 1})
	snap := c.Snapshot(true)
	assert.Len(t, snap.Tenants, 1)
}

func TestSnapshotEmptyDeploymentHasZeroUtilization(t *testing.T) {
	c := newTestCollector(fakeRegistry{})
	snap := c.Snapshot(false)
	assert.Zero(t, snap.BufferUtilization)
	assert.Zero(t, snap.MessagesPerSecond)
}

func TestPrometheusExporterServes(t *testing.T) {
	c := newTestCollector(fakeRegistry{tenants: 2, ceiling: 1})
	e := NewExporter(c)
	assert.NotNil(t, e.Handler())
}
