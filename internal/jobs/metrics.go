package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	drift      *prometheus.GaugeVec
	driftPlans prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetDrift publishes the outcome of the latest drift scan: how many entries
// would change price, how many reference unavailable variants and on how many
// floorplans at least one of either was found.
func (m *Metrics) SetDrift(updated, invalid, floorplans int) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues("updated").Set(float64(updated))
	m.drift.WithLabelValues("invalid").Set(float64(invalid))
	m.driftPlans.Set(float64(floorplans))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartplan_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartplan_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartplan_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	drift := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "smartplan_bom_drift_entries",
		Help: "Entries found out of line with the catalog by the last drift scan.",
	}, []string{"kind"})
	driftPlans := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smartplan_bom_drift_floorplans",
		Help: "Floorplans with at least one drifted entry in the last drift scan.",
	})
	registerer.MustRegister(runs, failures, duration, drift, driftPlans)
	return &Metrics{runs: runs, failures: failures, duration: duration, drift: drift, driftPlans: driftPlans}
}
