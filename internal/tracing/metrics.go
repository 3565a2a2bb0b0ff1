package tracing

import "github.com/prometheus/client_golang/prometheus"

var (
	spanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridrelay_rpc_span_duration_seconds",
			Help:    "Duration of traced RPC calls, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	spansExported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrelay_spans_exported_total",
			Help: "Total number of spans handed to an exporter sink.",
		},
		[]string{"exporter"},
	)

	spanBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrelay_span_batches_total",
			Help: "Total number of span batches flushed, by trigger.",
		},
		[]string{"trigger"},
	)

	spansDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridrelay_spans_dropped_total",
			Help: "Spans discarded after the batch sink rejected them.",
		},
	)
)

func init() {
	prometheus.MustRegister(spanDuration)
	prometheus.MustRegister(spansExported)
	prometheus.MustRegister(spanBatches)
	prometheus.MustRegister(spansDropped)
}
