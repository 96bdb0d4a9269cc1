package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/status"

	"fractalstream/internal/telemetry"
)

// MetricsWriter exports dispatch results as Prometheus metrics.
type MetricsWriter struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	calc     prometheus.Histogram
	attempts *prometheus.CounterVec
}

// NewMetricsWriter registers the dispatch metrics with reg.
func NewMetricsWriter(reg prometheus.Registerer) *MetricsWriter {
	f := promauto.With(reg)
	return &MetricsWriter{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fractalstream",
			Name:      "dispatch_results_total",
			Help:      "Dispatched render requests by serving replica and outcome.",
		}, []string{"worker", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fractalstream",
			Name:      "dispatch_latency_seconds",
			Help:      "Wall-clock latency of render requests including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"outcome"}),
		calc: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fractalstream",
			Name:      "render_calc_seconds",
			Help:      "Server-reported calculation time of successful renders.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fractalstream",
			Name:      "rpc_failed_attempts_total",
			Help:      "Failed render attempts by replica and status code.",
		}, []string{"replica", "code"}),
	}
}

// Write records one result.
func (m *MetricsWriter) Write(row telemetry.DispatchResult) error {
	outcome := "success"
	if !row.Success {
		outcome = "failure"
	}
	m.requests.WithLabelValues(row.ServedBy, outcome).Inc()
	m.latency.WithLabelValues(outcome).Observe(row.LatencyMs / 1000)
	if row.Success {
		m.calc.Observe(row.CalcTimeMs / 1000)
	}
	return nil
}

// ObserveAttempt counts a failed attempt. It matches rpc.AttemptObserver.
func (m *MetricsWriter) ObserveAttempt(replica string, _ int, err error) {
	m.attempts.WithLabelValues(replica, status.Code(err).String()).Inc()
}
