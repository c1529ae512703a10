package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RunsClaimed    prometheus.Counter
	RunsDuplicate  prometheus.Counter
	RunsCompleted  prometheus.Counter
	RunsFailed     prometheus.Counter
	RunsRolledBack prometheus.Counter
	RowsInserted   prometheus.Counter
	RowsSkipped    prometheus.Counter
	RowsErrored    prometheus.Counter
	RunDuration    prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		RunsClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_import_runs_claimed_total",
			Help: "Total number of import runs claimed",
		}),
		RunsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_import_runs_duplicate_total",
			Help: "Total number of claim attempts that observed a prior run",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_import_runs_completed_total",
			Help: "Total number of import runs completed",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_import_runs_failed_total",
			Help: "Total number of import runs failed",
		}),
		RunsRolledBack: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_import_runs_rolled_back_total",
			Help: "Total number of import runs rolled back",
		}),
		RowsInserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_rows_inserted_total",
			Help: "Total rows landed as pending",
		}),
		RowsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_rows_skipped_total",
			Help: "Total rows skipped as dedupe-key conflicts",
		}),
		RowsErrored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_rows_errored_total",
			Help: "Total rows recorded as parse errors",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_import_run_duration_seconds",
			Help:    "Wall-clock duration of import runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) ObserveRun(status string, seconds float64) {
	if m == nil {
		return
	}
	switch status {
	case "completed":
		m.RunsCompleted.Inc()
	case "failed":
		m.RunsFailed.Inc()
	}
	m.RunDuration.Observe(seconds)
}

func (m *Metrics) AddRows(inserted, skipped, errored int) {
	if m == nil {
		return
	}
	m.RowsInserted.Add(float64(inserted))
	m.RowsSkipped.Add(float64(skipped))
	m.RowsErrored.Add(float64(errored))
}

func (m *Metrics) IncClaimed() {
	if m == nil {
		return
	}
	m.RunsClaimed.Inc()
}

func (m *Metrics) IncDuplicate() {
	if m == nil {
		return
	}
	m.RunsDuplicate.Inc()
}

func (m *Metrics) IncRolledBack() {
	if m == nil {
		return
	}
	m.RunsRolledBack.Inc()
}
