package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the fulfillment module.
type Metrics struct {
	// Provisioning outcomes by action and result
	Outcomes *prometheus.CounterVec

	// Registry provider call latency by action
	ProviderLatency *prometheus.HistogramVec
}

// New creates a new Metrics instance with all fulfillment metrics registered.
func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "domainpay_fulfillment_outcomes_total",
			Help: "Total fulfillment outcomes by action and result",
		}, []string{"action", "result"}), // result: "completed", "failed", "skipped"

		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "domainpay_registry_call_duration_seconds",
			Help:    "Duration of registry provider calls by action",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"action"}),
	}
}

// IncOutcome records a fulfillment outcome.
func (m *Metrics) IncOutcome(action, result string) {
	if m != nil {
		m.Outcomes.WithLabelValues(action, result).Inc()
	}
}

// ObserveProviderLatency records one registry call duration.
func (m *Metrics) ObserveProviderLatency(action string, d time.Duration) {
	if m != nil {
		m.ProviderLatency.WithLabelValues(action).Observe(d.Seconds())
	}
}
