package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	t.Parallel()

	// Two sessions register the same instrument names without panics.
	a := NewMetrics()
	b := NewMetrics()

	a.AuditRows.Add(3)

	assert.InDelta(t, 3.0, testutil.ToFloat64(a.AuditRows), 0.001)
	assert.InDelta(t, 0.0, testutil.ToFloat64(b.AuditRows), 0.001)
}

func TestMetrics_DetectorCycleOutcomes(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.DetectorCycles.WithLabelValues(OutcomeChanged).Inc()
	m.DetectorCycles.WithLabelValues(OutcomeChanged).Inc()
	m.DetectorCycles.WithLabelValues(OutcomeError).Inc()

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.DetectorCycles.WithLabelValues(OutcomeChanged)), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.DetectorCycles.WithLabelValues(OutcomeError)), 0.001)
}

func TestMetrics_HandlerServesScrape(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.TasksStarted.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "watchdog_poll_tasks_started_total")
}
