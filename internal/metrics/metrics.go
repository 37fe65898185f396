// Package metrics exposes Prometheus collectors for the licensing service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "licensed"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	outcomes     *prometheus.CounterVec
	evictions    prometheus.Counter
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Activation and probe results by operation and code.",
		}, []string{"operation", "code"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_evictions_total",
			Help:      "Device bindings evicted to make room for a new machine.",
		}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of license store operations.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"backend", "operation"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "License store failures by kind.",
		}, []string{"backend", "operation", "kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.outcomes,
		m.evictions,
		m.storeLatency,
		m.storeErrors,
	)
	return m
}

// Outcome counts one finished activation or probe. code is the wire code,
// or a fault label such as "STORE_UNAVAILABLE".
func (m *Metrics) Outcome(operation, code string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// ObserveStore records the duration of one store call. kind is empty on
// success.
func (m *Metrics) ObserveStore(backend, operation string, d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(backend, operation).Observe(d.Seconds())
	if kind != "" {
		m.storeErrors.WithLabelValues(backend, operation, kind).Inc()
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
