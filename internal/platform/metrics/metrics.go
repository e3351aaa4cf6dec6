package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for grant handling, reconciliation
// and persistence. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Activations        *prometheus.CounterVec
	Registrations      *prometheus.CounterVec
	ReconcileEntries   *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram
	PersistFailures    *prometheus.CounterVec
	PersistLatency     prometheus.Histogram
	StoreEntries       prometheus.Gauge
	BoundControls      prometheus.Gauge
	PlatformCallErrors *prometheus.CounterVec
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Activations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolegate_control_activations_total",
			Help: "Grant control activations by outcome",
		}, []string{"outcome"}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolegate_registrations_total",
			Help: "Operator registrations by result",
		}, []string{"result"}),
		ReconcileEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolegate_reconcile_entries_total",
			Help: "Entries processed by the startup reconciliation pass, by result",
		}, []string{"result"}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rolegate_reconcile_duration_seconds",
			Help:    "Duration of the startup reconciliation pass",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolegate_store_persist_failures_total",
			Help: "Failed writes of the grant document, by backend",
		}, []string{"backend"}),
		PersistLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rolegate_store_persist_duration_seconds",
			Help:    "Latency of grant document writes",
			Buckets: prometheus.DefBuckets,
		}),
		StoreEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "rolegate_store_entries",
			Help: "Number of grant entries held in memory",
		}),
		BoundControls: f.NewGauge(prometheus.GaugeOpts{
			Name: "rolegate_bound_controls",
			Help: "Number of grant controls currently bound to the gateway",
		}),
		PlatformCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rolegate_platform_call_errors_total",
			Help: "Failed chat platform calls by operation",
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncActivation(outcome string) {
	if m == nil {
		return
	}
	m.Activations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRegistration(result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReconcile(result string) {
	if m == nil {
		return
	}
	m.ReconcileEntries.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReconcile(d time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileDuration.Observe(d.Seconds())
}

func (m *Metrics) IncPersistFailure(backend string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(backend).Inc()
}

func (m *Metrics) ObservePersist(d time.Duration) {
	if m == nil {
		return
	}
	m.PersistLatency.Observe(d.Seconds())
}

func (m *Metrics) SetStoreEntries(n int) {
	if m == nil {
		return
	}
	m.StoreEntries.Set(float64(n))
}

func (m *Metrics) SetBoundControls(n int) {
	if m == nil {
		return
	}
	m.BoundControls.Set(float64(n))
}

func (m *Metrics) IncPlatformError(operation string) {
	if m == nil {
		return
	}
	m.PlatformCallErrors.WithLabelValues(operation).Inc()
}
