package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrelay_engine_tasks_total",
			Help: "Total number of tasks executed by the compute service, by type and final status.",
		},
		[]string{"type", "status"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridrelay_engine_task_duration_seconds",
			Help:    "Task execution time inside the compute service, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridrelay_engine_tasks_in_flight",
			Help: "Number of tasks currently executing.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(tasksInFlight)
}
