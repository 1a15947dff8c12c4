package bom

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the BOM engine. A nil *Metrics is
// a valid no-op recorder.
type Metrics struct {
	entriesCreated   *prometheus.CounterVec
	addonsSkipped    prometheus.Counter
	conflicts        prometheus.Counter
	reconcileUpdates *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the BOM collectors. A nil registerer uses the default
// Prometheus registerer, registering only once per process.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartplan_bom_entries_created_total",
		Help: "BOM entries created, partitioned by kind (main or child).",
	}, []string{"kind"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smartplan_bom_addon_skipped_total",
		Help: "Required addons skipped during expansion because they failed to resolve.",
	})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smartplan_bom_conflicts_total",
		Help: "Concurrent main-entry creations resolved through the reuse path.",
	})
	updates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartplan_bom_reconcile_updates_total",
		Help: "Entries updated or invalidated by catalog reconciliation.",
	}, []string{"kind"})
	registerer.MustRegister(created, skipped, conflicts, updates)
	return &Metrics{entriesCreated: created, addonsSkipped: skipped, conflicts: conflicts, reconcileUpdates: updates}
}

func (m *Metrics) entryCreated(main bool) {
	if m == nil {
		return
	}
	kind := "child"
	if main {
		kind = "main"
	}
	m.entriesCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) addonSkipped() {
	if m == nil {
		return
	}
	m.addonsSkipped.Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) reconciled(report ChangeReport) {
	if m == nil || report.DryRun {
		return
	}
	m.reconcileUpdates.WithLabelValues("updated").Add(float64(len(report.Updated)))
	m.reconcileUpdates.WithLabelValues("invalid").Add(float64(len(report.Invalid)))
}
