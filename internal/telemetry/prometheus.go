package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Exporter registers pull-based prometheus collectors over the same
// sources the snapshot uses.
type Exporter struct {
	registry *prometheus.Registry
}

func NewExporter(c *Collector) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tenants",
		Help:      "Registered tenants.",
	}, func() float64 { return float64(c.registry.TotalTenants()) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open client connections.",
	}, func() float64 { return float64(c.registry.TotalConnections()) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffered_bytes",
		Help:      "Bytes parked in tenant buffers.",
	}, func() float64 { return float64(c.registry.TotalBufferedBytes()) }))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_events_published_total",
		Help:      "Events published on the in-process bus.",
	}, func() float64 { return float64(c.bus.Stats().Published) }))

	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_queue_drops_total",
		Help:      "Async subscription entries evicted by queue pressure.",
	}, func() float64 { return float64(c.bus.Stats().DroppedByQueuePressure) }))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dlq_entries",
		Help:      "Entries resting in the dead-letter queue.",
	}, func() float64 {
		total := 0
		for _, n := range c.dead.SizeByKind() {
			total += n
		}
		return float64(total)
	}))

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "messages_per_second",
		Help:      "Relay throughput over the sliding window.",
	}, func() float64 {
		rate, _ := c.relayWin.Rates()
		return rate
	}))

	return &Exporter{registry: reg}
}

// Handler serves the prometheus exposition endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
