package rpc

import "github.com/prometheus/client_golang/prometheus"

var (
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridrelay_rpc_client_call_duration_seconds",
			Help:    "Time until the compute service answered a call, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	callErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrelay_rpc_client_errors_total",
			Help: "Failed compute service calls, by method and kind.",
		},
		[]string{"method", "kind"},
	)
)

func init() {
	prometheus.MustRegister(callDuration)
	prometheus.MustRegister(callErrors)
}
