package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrelay_http_requests_total",
			Help: "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridrelay_http_request_duration_seconds",
			Help:    "Duration of unary HTTP requests. Result streams are excluded.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	resultStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridrelay_result_streams_active",
			Help: "StreamResults responses currently open.",
		},
	)

	sessionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridrelay_sessions_opened_total",
			Help: "Pull client sessions opened.",
		},
	)

	instructionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrelay_interact_instructions_total",
			Help: "Instructions returned to pull clients, by action.",
		},
		[]string{"action"},
	)

	publishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridrelay_task_publishes_total",
			Help: "Task descriptors published to pull clients.",
		},
		[]string{"restart_clients"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(resultStreamsActive)
	prometheus.MustRegister(sessionsOpened)
	prometheus.MustRegister(instructionsTotal)
	prometheus.MustRegister(publishesTotal)
}

// metricsMiddleware counts every request by its chi route pattern, so that
// task ids in paths do not become label values.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := routePattern(r)
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		if ww.Header().Get("Content-Type") != "text/event-stream" {
			httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
