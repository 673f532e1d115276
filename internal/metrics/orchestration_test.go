package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOrchestrationMetrics(t *testing.T) {
	m := NewOrchestrationMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordSwap(3)
	m.RecordSwap(5)
	m.RecordRejection("unknown_data_source")
	m.RecordStale()
	m.RecordPersist("kept")
	m.RecordRegistration(true)
	m.RecordRegistration(false)
	m.RecordInit(false)
	m.SetState(2)
	m.RecordEvent("config_applied", true)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"swaps", testutil.ToFloat64(m.ConfigSwapsTotal), 2},
		{"version", testutil.ToFloat64(m.ActiveConfigVersion), 5},
		{"rejections", testutil.ToFloat64(m.ConfigRejectionsTotal.WithLabelValues("unknown_data_source")), 1},
		{"stale", testutil.ToFloat64(m.ConfigStaleTotal), 1},
		{"persist kept", testutil.ToFloat64(m.PersistTotal.WithLabelValues("kept")), 1},
		{"registrations ok", testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues(StatusSuccess)), 1},
		{"registrations failed", testutil.ToFloat64(m.RegistrationsTotal.WithLabelValues(StatusFailure)), 1},
		{"init failed", testutil.ToFloat64(m.InitTotal.WithLabelValues(StatusFailure)), 1},
		{"state", testutil.ToFloat64(m.State), 2},
		{"events", testutil.ToFloat64(m.EventsTotal.WithLabelValues("config_applied", StatusSuccess)), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestOrchestrationMetricsUnregistered(t *testing.T) {
	m := NewOrchestrationMetricsWithRegistry(nil)
	m.SetActiveVersion(9)
	if got := testutil.ToFloat64(m.ActiveConfigVersion); got != 9 {
		t.Errorf("version = %v, want 9", got)
	}
}

func TestOrchestrationMetricsDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewOrchestrationMetricsWithRegistry(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering twice on one registry should panic")
		}
	}()
	NewOrchestrationMetricsWithRegistry(reg)
}
