package session

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridrelay_session_mode",
			Help: "1 for the mode the pull session is currently in, 0 otherwise.",
		},
		[]string{"mode"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrelay_session_transitions_total",
			Help: "Session mode transitions.",
		},
		[]string{"from", "to"},
	)

	tasksInstalled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridrelay_session_tasks_installed_total",
			Help: "Tasks installed on a fresh worker after a signature change.",
		},
	)

	workersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridrelay_session_workers_active",
			Help: "Task workers currently running. Never above 1.",
		},
	)

	restartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridrelay_session_restarts_required_total",
			Help: "Times the session loop ended because a client restart was required.",
		},
	)
)

func init() {
	prometheus.MustRegister(sessionMode)
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(tasksInstalled)
	prometheus.MustRegister(workersActive)
	prometheus.MustRegister(restartsTotal)
}
