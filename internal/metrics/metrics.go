// Package metrics exposes Prometheus collectors for coordinator flows.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	activityDropped prometheus.Counter
	joinCodesPurged prometheus.Counter
	sessions        prometheus.Gauge
}

// New builds a fresh registry with the orbit collectors and the Go runtime
// collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "coordinator_operations_total",
			Help:      "Coordinator operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orbit",
			Name:      "coordinator_operation_seconds",
			Help:      "Coordinator operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		activityDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "activity_append_failures_total",
			Help:      "Best-effort activity appends that failed.",
		}),
		joinCodesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orbit",
			Name:      "join_codes_purged_total",
			Help:      "Expired join codes removed by housekeeping.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orbit",
			Name:      "sessions_active",
			Help:      "Coordinator sessions currently held in memory.",
		}),
	}
	m.registry.MustRegister(
		m.operations,
		m.duration,
		m.activityDropped,
		m.joinCodesPurged,
		m.sessions,
		collectors.NewGoCollector(),
	)
	return m
}

// Observe records one finished operation. A nil receiver is a no-op.
func (m *Metrics) Observe(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ActivityDropped() {
	if m == nil {
		return
	}
	m.activityDropped.Inc()
}

func (m *Metrics) JoinCodesPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.joinCodesPurged.Add(float64(n))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
