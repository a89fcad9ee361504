// Package metrics exposes engine step reports as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/fieldsim/internal/kernel"
)

// Metrics holds the collectors for one engine.
type Metrics struct {
	reg *prometheus.Registry

	Tick        prometheus.Gauge
	Units       prometheus.Gauge
	Links       prometheus.Gauge
	Pool        prometheus.Gauge
	Entropy     prometheus.Gauge
	Transferred prometheus.Counter
	Evolved     prometheus.Counter
	Retired     prometheus.Counter
	Nudges      prometheus.Counter
	BridgeIn    prometheus.Counter
	BridgeOut   prometheus.Counter
	StepSeconds prometheus.Histogram
}

// New registers the collectors on a fresh registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		Tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldsim", Name: "tick", Help: "Completed engine steps.",
		}),
		Units: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldsim", Name: "units", Help: "Live units.",
		}),
		Links: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldsim", Name: "links", Help: "Live links.",
		}),
		Pool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldsim", Name: "pool_energy", Help: "Unallocated energy in the ledger.",
		}),
		Entropy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldsim", Name: "total_entropy", Help: "Global entropy.",
		}),
		Transferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsim", Name: "transferred_energy_total", Help: "Energy moved along links.",
		}),
		Evolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsim", Name: "evolutions_total", Help: "Unit evolutions.",
		}),
		Retired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsim", Name: "retirements_total", Help: "Units retired for instability.",
		}),
		Nudges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsim", Name: "observer_nudges_total", Help: "Observer nudges applied.",
		}),
		BridgeIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsim", Subsystem: "bridge", Name: "received_total", Help: "Events absorbed from peers.",
		}),
		BridgeOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsim", Subsystem: "bridge", Name: "sent_total", Help: "Events emitted to peers.",
		}),
		StepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fieldsim", Name: "step_seconds", Help: "Wall time of one step.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}),
	}
	reg.MustRegister(
		m.Tick, m.Units, m.Links, m.Pool, m.Entropy,
		m.Transferred, m.Evolved, m.Retired, m.Nudges,
		m.BridgeIn, m.BridgeOut, m.StepSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one step report.
func (m *Metrics) Observe(r kernel.Report) {
	m.Tick.Set(float64(r.Tick))
	m.Units.Set(float64(r.Units))
	m.Links.Set(float64(r.Links))
	m.Pool.Set(r.Pool)
	m.Entropy.Set(r.Entropy)
	m.Transferred.Add(r.Transferred)
	m.Evolved.Add(float64(len(r.Evolved)))
	m.Retired.Add(float64(len(r.Retired)))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
