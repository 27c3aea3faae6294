package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the payment reconciliation module.
type Metrics struct {
	// Transitions by resulting status and triggering source
	Transitions *prometheus.CounterVec

	// Duplicate/late notifications dropped by the idempotency guard
	NoOps *prometheus.CounterVec

	// Gateway status query latency
	GatewayLatency prometheus.Histogram

	// Pending transactions seen per poller tick
	PollerBatchSize prometheus.Histogram
}

// New creates a new Metrics instance with all payment module metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "domainpay_transaction_transitions_total",
			Help: "Total transaction status transitions by new status and source",
		}, []string{"status", "source"}),

		NoOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "domainpay_reconcile_noops_total",
			Help: "Notifications dropped without side effects by reason",
		}, []string{"reason"}),

		GatewayLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "domainpay_gateway_status_duration_seconds",
			Help:    "Duration of payment gateway status queries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),

		PollerBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "domainpay_poller_batch_size",
			Help:    "Pending transactions processed per poller tick",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}

// IncTransition records an applied status transition.
func (m *Metrics) IncTransition(status, source string) {
	if m != nil {
		m.Transitions.WithLabelValues(status, source).Inc()
	}
}

// IncNoOp records a notification dropped by the idempotency guard.
func (m *Metrics) IncNoOp(reason string) {
	if m != nil {
		m.NoOps.WithLabelValues(reason).Inc()
	}
}

// ObserveGatewayLatency records one status query duration.
func (m *Metrics) ObserveGatewayLatency(d time.Duration) {
	if m != nil {
		m.GatewayLatency.Observe(d.Seconds())
	}
}

// ObservePollerBatch records the batch size of one tick.
func (m *Metrics) ObservePollerBatch(n int) {
	if m != nil {
		m.PollerBatchSize.Observe(float64(n))
	}
}
