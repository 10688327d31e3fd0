package observability

import "testing"

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	m := NewMetrics()
	if m.registry == nil {
		t.Fatal("expected a non-nil registry")
	}
}

func TestNewMetrics_CountersIncrement(t *testing.T) {
	m := NewMetrics()
	m.ScansTotal.Inc()
	m.ClassificationsTotal.WithLabelValues("useful").Inc()
	m.DecisionsTotal.WithLabelValues("keep").Inc()
	m.ExecutionOutcomesTotal.WithLabelValues("success").Inc()
	m.BundlesWrittenTotal.WithLabelValues("safe").Inc()
}
