// Package metrics exports transfer counters to Prometheus. Values are fed
// from the event bus so sessions stay unaware of the registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bandlink/internal/events"
)

const namespace = "bandlink"

type Metrics struct {
	reg *prometheus.Registry

	transfersStarted  *prometheus.CounterVec
	transfersFinished *prometheus.CounterVec
	transferBytes     *prometheus.CounterVec
	transferPackets   *prometheus.CounterVec
	transferDuration  *prometheus.HistogramVec
	transferProgress  *prometheus.GaugeVec
	integrityChecks   *prometheus.CounterVec
}

// New registers the transfer collectors and the default Go collectors on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		transfersStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "started_total", Help: "Transfers started"}, []string{"kind"}),
		transfersFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "finished_total", Help: "Transfers finished by final state"}, []string{"kind", "state"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "bytes_total", Help: "Payload bytes moved"}, []string{"kind"}),
		transferPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "packets_total", Help: "Packets moved"}, []string{"kind"}),
		transferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "duration_seconds", Help: "Transfer wall time",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600}}, []string{"kind"}),
		transferProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "progress_percent", Help: "Progress of the running transfer"}, []string{"kind"}),
		integrityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "integrity_checks_total", Help: "Digest checks by outcome"}, []string{"result"}),
	}

	m.reg.MustRegister(
		m.transfersStarted,
		m.transfersFinished,
		m.transferBytes,
		m.transferPackets,
		m.transferDuration,
		m.transferProgress,
		m.integrityChecks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.reg,
	})
}

// Observe subscribes to bus and returns the unsubscribe function.
func (m *Metrics) Observe(bus *events.Bus) func() {
	return bus.OnAll(m.handle)
}

func (m *Metrics) handle(e events.Event) {
	switch d := e.Data.(type) {
	case events.Started:
		m.transfersStarted.WithLabelValues(d.Kind).Inc()
		m.transferProgress.WithLabelValues(d.Kind).Set(0)
	case events.Progress:
		if d.Percentage > 0 {
			m.transferProgress.WithLabelValues(d.Kind).Set(d.Percentage)
		}
	case events.Finished:
		m.transfersFinished.WithLabelValues(d.Kind, d.State).Inc()
		m.transferBytes.WithLabelValues(d.Kind).Add(float64(d.Bytes))
		m.transferPackets.WithLabelValues(d.Kind).Add(float64(d.Packets))
		m.transferDuration.WithLabelValues(d.Kind).Observe(d.Elapsed.Seconds())
	case events.Integrity:
		result := "mismatch"
		if d.Verified {
			result = "verified"
		}
		m.integrityChecks.WithLabelValues(result).Inc()
	}
}
