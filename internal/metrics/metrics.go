// Package metrics holds the Prometheus collectors of the importer.
package metrics

import (
	"time"

	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "csvimport_"

// Task outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomePermanent = "permanent"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
)

var tasksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "tasks_total",
		Help: "Number of task executions by outcome",
	},
	[]string{"task", "outcome"},
)

var taskDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "task_duration_seconds",
		Help:    "Duration of single task attempts",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 45, 60, 120},
	},
	[]string{"task"},
)

var rowsImported = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "rows_imported_total",
		Help: "Number of rows committed by successful imports",
	},
)

var jobsByStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "jobs",
		Help: "Number of import jobs by status",
	},
	[]string{"status"},
)

func RecordTask(task, outcome string, duration time.Duration) {
	tasksTotal.WithLabelValues(task, outcome).Inc()
	taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

func AddRowsImported(n int) {
	if n > 0 {
		rowsImported.Add(float64(n))
	}
}

// SetJobCounts publishes counts; statuses missing from counts are set to zero.
func SetJobCounts(counts map[state.JobStatus]int) {
	for _, status := range state.AllStatuses {
		jobsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
