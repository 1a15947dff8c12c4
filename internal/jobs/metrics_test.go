package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("bom:reconcile").End(nil))
	failure := errors.New("boom")
	assert.Same(t, failure, m.Track("bom:reconcile").End(failure))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("bom:reconcile", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("bom:reconcile", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("bom:reconcile")))
}

func TestSetDriftOverwritesGauges(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetDrift(4, 2, 3)
	m.SetDrift(1, 0, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.drift.WithLabelValues("updated")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.drift.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.driftPlans))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.SetDrift(1, 1, 1)
	assert.NoError(t, m.Track("x").End(nil))
}
