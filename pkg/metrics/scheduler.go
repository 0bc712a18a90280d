package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// SchedulerMetrics records how each scheduled task run ended.
type SchedulerMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewSchedulerMetrics registers the scheduler task metrics on reg. A nil
// registerer yields a collector that records nothing.
func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return &SchedulerMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_task_runs_total",
		Help: "Scheduled task executions by task and outcome.",
	}, []string{"task", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_task_duration_seconds",
		Help:    "Wall time of executed scheduled tasks.",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	}, []string{"task"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scheduler_task_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run per task.",
	}, []string{"task"})
	reg.MustRegister(runs, duration, lastSuccess)
	return &SchedulerMetrics{runs: runs, duration: duration, lastSuccess: lastSuccess}
}

// ObserveRun records an executed task. finishedAt feeds the last-success gauge.
func (m *SchedulerMetrics) ObserveRun(task string, took time.Duration, finishedAt time.Time, err error) {
	if m == nil || m.runs == nil {
		return
	}
	task = normalizeLabel(task)
	m.duration.WithLabelValues(task).Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues(task, OutcomeFailure).Inc()
		return
	}
	m.runs.WithLabelValues(task, OutcomeSuccess).Inc()
	m.lastSuccess.WithLabelValues(task).Set(float64(finishedAt.Unix()))
}

// IncSkipped counts a run abandoned because another instance held the task lock.
func (m *SchedulerMetrics) IncSkipped(task string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(task), OutcomeSkipped).Inc()
}

// IncFailure counts a run that failed before the task body executed.
func (m *SchedulerMetrics) IncFailure(task string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(task), OutcomeFailure).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
