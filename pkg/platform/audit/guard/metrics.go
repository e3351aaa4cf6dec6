package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the guarded audit sink.
type Metrics struct {
	Written      prometheus.Counter
	Sampled      prometheus.Counter
	Dropped      prometheus.Counter
	Failures     prometheus.Counter
	BreakerState prometheus.Gauge
}

// NewMetrics registers the sink metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Written: factory.NewCounter(prometheus.CounterOpts{
			Name: "rolegate_audit_sink_written_total",
			Help: "Audit events successfully written to the sink",
		}),
		Sampled: factory.NewCounter(prometheus.CounterOpts{
			Name: "rolegate_audit_sink_sampled_total",
			Help: "Operations audit events dropped by sampling",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rolegate_audit_sink_breaker_dropped_total",
			Help: "Audit events dropped while the circuit breaker was open",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rolegate_audit_sink_failures_total",
			Help: "Audit events the sink failed to write",
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rolegate_audit_sink_breaker_open",
			Help: "Circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) setBreaker(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}
