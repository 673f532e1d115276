package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for OrchestrationMetrics.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// OrchestrationMetrics holds metrics for the orchestration coordinator:
// configuration persistence and hot swaps, instance registration, and the
// lifecycle state.
type OrchestrationMetrics struct {
	// ConfigSwapsTotal counts routing configurations applied from change
	// notifications.
	ConfigSwapsTotal prometheus.Counter

	// ConfigRejectionsTotal counts configurations that failed decoding or
	// validation. Labels: reason
	ConfigRejectionsTotal *prometheus.CounterVec

	// ConfigStaleTotal counts notifications skipped because their version
	// was not newer than the applied one.
	ConfigStaleTotal prometheus.Counter

	// PersistTotal counts persist attempts. Labels: outcome (written, kept, failed)
	PersistTotal *prometheus.CounterVec

	// ActiveConfigVersion is the coordination-service version of the
	// configuration currently serving queries. 0 means local only.
	ActiveConfigVersion prometheus.Gauge

	// RegistrationsTotal counts instance registrations. Labels: status
	RegistrationsTotal *prometheus.CounterVec

	// InitTotal counts Init attempts. Labels: status
	InitTotal *prometheus.CounterVec

	// State is the coordinator lifecycle state as a number
	// (0 constructed, 1 initializing, 2 active, 3 shutdown).
	State prometheus.Gauge

	// EventsTotal counts lifecycle events handed to sinks.
	// Labels: type, status
	EventsTotal *prometheus.CounterVec
}

// NewOrchestrationMetrics creates orchestration metrics registered with the
// default Prometheus registry.
func NewOrchestrationMetrics() *OrchestrationMetrics {
	return NewOrchestrationMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewOrchestrationMetricsWithRegistry creates orchestration metrics registered
// with reg. A nil reg leaves them unregistered.
func NewOrchestrationMetricsWithRegistry(reg prometheus.Registerer) *OrchestrationMetrics {
	factory := promauto.With(reg)
	return &OrchestrationMetrics{
		ConfigSwapsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "orchestration",
			Name:      "config_swaps_total",
			Help:      "Total routing configurations hot-swapped from change notifications.",
		}),
		ConfigRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "orchestration",
			Name:      "config_rejections_total",
			Help:      "Total configuration updates rejected, by reason.",
		}, []string{"reason"}),
		ConfigStaleTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "orchestration",
			Name:      "config_stale_total",
			Help:      "Total configuration notifications skipped as not newer than the applied version.",
		}),
		PersistTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "orchestration",
			Name:      "persist_total",
			Help:      "Total configuration persist attempts, by outcome.",
		}, []string{"outcome"}),
		ActiveConfigVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "orchestration",
			Name:      "active_config_version",
			Help:      "Coordination-service version of the active routing configuration.",
		}),
		RegistrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "orchestration",
			Name:      "registrations_total",
			Help:      "Total instance registrations, by status.",
		}, []string{"status"}),
		InitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "orchestration",
			Name:      "init_total",
			Help:      "Total coordinator Init attempts, by status.",
		}, []string{"status"}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "orchestration",
			Name:      "state",
			Help:      "Coordinator lifecycle state (0 constructed, 1 initializing, 2 active, 3 shutdown).",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total lifecycle events handed to sinks, by type and status.",
		}, []string{"type", "status"}),
	}
}

func statusLabel(ok bool) string {
	if ok {
		return StatusSuccess
	}
	return StatusFailure
}

// RecordSwap records an applied configuration and its version.
func (m *OrchestrationMetrics) RecordSwap(version int64) {
	m.ConfigSwapsTotal.Inc()
	m.ActiveConfigVersion.Set(float64(version))
}

// RecordRejection records a rejected configuration update.
func (m *OrchestrationMetrics) RecordRejection(reason string) {
	m.ConfigRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordStale records a skipped stale notification.
func (m *OrchestrationMetrics) RecordStale() {
	m.ConfigStaleTotal.Inc()
}

// RecordPersist records a persist attempt outcome.
func (m *OrchestrationMetrics) RecordPersist(outcome string) {
	m.PersistTotal.WithLabelValues(outcome).Inc()
}

// RecordRegistration records an instance registration attempt.
func (m *OrchestrationMetrics) RecordRegistration(ok bool) {
	m.RegistrationsTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// RecordInit records an Init attempt.
func (m *OrchestrationMetrics) RecordInit(ok bool) {
	m.InitTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// SetState publishes the coordinator state.
func (m *OrchestrationMetrics) SetState(state int) {
	m.State.Set(float64(state))
}

// SetActiveVersion publishes the version of the active configuration
// without counting a swap.
func (m *OrchestrationMetrics) SetActiveVersion(version int64) {
	m.ActiveConfigVersion.Set(float64(version))
}

// RecordEvent records an event delivery attempt.
func (m *OrchestrationMetrics) RecordEvent(eventType string, ok bool) {
	m.EventsTotal.WithLabelValues(eventType, statusLabel(ok)).Inc()
}
