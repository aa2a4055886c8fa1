package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the controller's Prometheus collectors.
type Metrics struct {
	decisions     *prometheus.CounterVec
	riskScore     *prometheus.HistogramVec
	duration      *prometheus.HistogramVec
	reuseDetected prometheus.Counter
	auditFailures prometheus.Counter
	revocations   *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "auth_decisions_total",
			Help:      "Login and refresh outcomes.",
		}, []string{"op", "outcome"}),
		riskScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Name:      "risk_score",
			Help:      "Risk scores computed per operation.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 65, 80, 100, 150},
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Name:      "auth_operation_duration_seconds",
			Help:      "Controller operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "refresh_reuse_detected_total",
			Help:      "Rotated-away refresh tokens presented again and treated as reuse.",
		}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "audit_append_failures_total",
			Help:      "Audit entries that could not be written.",
		}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "session_revocations_total",
			Help:      "Sessions deleted, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.riskScore, m.duration, m.reuseDetected, m.auditFailures, m.revocations)
	}
	return m
}
