package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure reasons reported on the failures counter.
const (
	reasonInvalid = "invalid"
	reasonStore   = "store"
	reasonPanic   = "panic"
	reasonDropped = "dropped"
)

// Metrics holds Prometheus metrics for audit logging.
type Metrics struct {
	Logged              *prometheus.CounterVec
	Failures            *prometheus.CounterVec
	WriteDuration       prometheus.Histogram
	AsyncInFlight       prometheus.Gauge
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics registers the audit metrics on reg. A nil registerer gets a private registry, so
// tests and secondary instances never collide on metric names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		Logged: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_audit_events_logged_total",
			Help: "Total number of audit records persisted, by action and payload classification",
		}, []string{"action", "classification"}),
		Failures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_audit_failures_total",
			Help: "Total number of audit events that could not be recorded, by reason",
		}, []string{"reason"}),
		WriteDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_audit_write_duration_seconds",
			Help:    "Latency of audit store writes, including retries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		AsyncInFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "storefront_audit_async_in_flight",
			Help: "Current number of fire-and-forget audit writes in flight",
		}),
		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "storefront_audit_circuit_breaker_state",
			Help: "Current audit store circuit breaker state (0=closed/healthy, 1=open/unhealthy, 2=half-open)",
		}),
	}
}

func (m *Metrics) incLogged(action, classification string) {
	m.Logged.WithLabelValues(action, classification).Inc()
}

func (m *Metrics) incFailure(reason string) {
	m.Failures.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeWrite(seconds float64) {
	m.WriteDuration.Observe(seconds)
}
