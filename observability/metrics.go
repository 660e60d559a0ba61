// Package observability bundles the Prometheus instrumentation shared by the
// protocol engines and the API service.
package observability

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type loanMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	loanMetricsOnce sync.Once
	loanRegistry    *loanMetrics
)

// LoanMetrics returns the lazily-initialised registry recording protocol
// operation activity.
func LoanMetrics() *loanMetrics {
	loanMetricsOnce.Do(func() {
		loanRegistry = &loanMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftlend",
				Subsystem: "protocol",
				Name:      "operations_total",
				Help:      "Total protocol operations segmented by module, operation and outcome.",
			}, []string{"module", "operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftlend",
				Subsystem: "protocol",
				Name:      "errors_total",
				Help:      "Total protocol operation failures segmented by module and operation.",
			}, []string{"module", "operation"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nftlend",
				Subsystem: "protocol",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for protocol operation handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "operation"}),
		}
		prometheus.MustRegister(
			loanRegistry.operations,
			loanRegistry.errors,
			loanRegistry.latency,
		)
	})
	return loanRegistry
}

// Observe records the outcome and duration of a protocol operation.
func (m *loanMetrics) Observe(module, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(module, operation).Inc()
	}
	m.operations.WithLabelValues(module, operation, outcome).Inc()
	seconds := duration.Seconds()
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	m.latency.WithLabelValues(module, operation).Observe(seconds)
}
