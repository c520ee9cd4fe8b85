package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSent         = "sent"
	outcomeRetried      = "retried"
	outcomeDeadLettered = "dead_lettered"
	outcomeCancelled    = "cancelled"
	outcomeLeaseLost    = "lease_lost"
)

// Metrics counts delivery outcomes
type Metrics struct {
	outcomes *prometheus.CounterVec
	attempts prometheus.Histogram
}

// NewMetrics creates the delivery collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verify_delivery_total",
			Help: "Verification email delivery outcomes.",
		}, []string{"outcome"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "verify_delivery_attempts",
			Help:    "Attempts used by deliveries that reached a final outcome.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.outcomes, m.attempts)
	}
	return m
}

func (m *Metrics) observe(outcome string, attempts int) {
	m.outcomes.WithLabelValues(outcome).Inc()
	if outcome != outcomeRetried && outcome != outcomeLeaseLost {
		m.attempts.Observe(float64(attempts))
	}
}
