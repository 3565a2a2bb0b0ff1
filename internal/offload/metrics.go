package offload

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrelay_offload_cycles_total",
			Help: "Offload cycles run, by the path the result came from and outcome.",
		},
		[]string{"path", "outcome"},
	)

	remoteLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridrelay_offload_remote_latency_seconds",
			Help:    "Time from submission to remote result for cycles served remotely.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 3, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(remoteLatency)
}
