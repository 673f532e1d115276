package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shardorch/shardorch/internal/metadata"
)

// Namespace prefixes every metric exported by this package.
const Namespace = "shardorch"

// CoordinationMetrics holds metrics for calls to the coordination service.
// It implements metadata.OpRecorder.
type CoordinationMetrics struct {
	// LatencyHistogram tracks call latencies.
	// Labels: operation (get, put, delete, list, put_ephemeral, notifications),
	// status (success, conflict, error)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal counts calls by operation and status.
	RequestsTotal *prometheus.CounterVec

	// NotificationsTotal counts delivered change notifications.
	// Labels: type (changed, deleted)
	NotificationsTotal *prometheus.CounterVec
}

// DefaultCoordinationLatencyBuckets suit metadata calls, which are usually
// sub-millisecond to tens of milliseconds.
var DefaultCoordinationLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
}

// NewCoordinationMetrics creates coordination metrics registered with the
// default Prometheus registry.
func NewCoordinationMetrics() *CoordinationMetrics {
	return NewCoordinationMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewCoordinationMetricsWithRegistry creates coordination metrics registered
// with reg. A nil reg leaves them unregistered.
func NewCoordinationMetricsWithRegistry(reg prometheus.Registerer) *CoordinationMetrics {
	factory := promauto.With(reg)
	return &CoordinationMetrics{
		LatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "coordination",
				Name:      "operation_latency_seconds",
				Help:      "Coordination service call latency in seconds, by operation and status.",
				Buckets:   DefaultCoordinationLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "coordination",
				Name:      "operations_total",
				Help:      "Total coordination service calls, by operation and status.",
			},
			[]string{"operation", "status"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "coordination",
				Name:      "notifications_total",
				Help:      "Total change notifications received, by type.",
			},
			[]string{"type"},
		),
	}
}

// RecordOperation records a call latency and increments the request counter.
func (m *CoordinationMetrics) RecordOperation(operation string, durationSeconds float64, status string) {
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordNotification counts one delivered notification.
func (m *CoordinationMetrics) RecordNotification(deleted bool) {
	kind := "changed"
	if deleted {
		kind = "deleted"
	}
	m.NotificationsTotal.WithLabelValues(kind).Inc()
}

var _ metadata.OpRecorder = (*CoordinationMetrics)(nil)
