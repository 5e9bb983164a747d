package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records activity of the payment orchestration path:
// request totals, failures and chain-call latency segmented by operation.
type PaymentMetrics struct {
	Requests *prometheus.CounterVec
	Errors   *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

var (
	paymentMetricsOnce sync.Once
	paymentRegistry    *PaymentMetrics
)

// Payments returns the lazily-initialised payment metrics registry. Vectors
// are registered with the default registerer exactly once.
func Payments() *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentRegistry = &PaymentMetrics{
			Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ridmint",
				Subsystem: "payments",
				Name:      "requests_total",
				Help:      "Total payment operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ridmint",
				Subsystem: "payments",
				Name:      "errors_total",
				Help:      "Total payment operation failures segmented by operation.",
			}, []string{"operation"}),
			Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ridmint",
				Subsystem: "payments",
				Name:      "chain_call_seconds",
				Help:      "Latency of ledger calls segmented by operation.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(paymentRegistry.Requests, paymentRegistry.Errors, paymentRegistry.Latency)
	})
	return paymentRegistry
}

// Observe records one completed operation.
func (m *PaymentMetrics) Observe(operation string, err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.Errors.WithLabelValues(operation).Inc()
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
	m.Latency.WithLabelValues(operation).Observe(seconds)
}
