package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the hub's Prometheus collectors.
type Metrics struct {
	connections prometheus.Gauge
	delivered   prometheus.Counter
	dropped     prometheus.Counter
}

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Subsystem: "notify",
			Name:      "connections",
			Help:      "Open session notification websockets.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "notify",
			Name:      "events_delivered_total",
			Help:      "Events queued to a connection.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "notify",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a connection was slow or closing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.delivered, m.dropped)
	}
	return m
}
