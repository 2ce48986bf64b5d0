// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registrations counts register-server outcomes by result (created, matched, name_exists)
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtregistry_registrations_total",
			Help: "Total number of server registrations by result",
		},
		[]string{"result"},
	)

	// Heartbeats counts server heartbeats by result (ok, unknown, name_exists)
	Heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtregistry_heartbeats_total",
			Help: "Total number of server heartbeats by result",
		},
		[]string{"result"},
	)

	Disconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtregistry_disconnects_total",
			Help: "Total number of explicit server disconnects",
		},
	)

	SweepExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtregistry_sweep_expired_total",
			Help: "Total number of servers expired by the timeout sweep",
		},
	)

	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtregistry_sweep_failures_total",
			Help: "Total number of servers the timeout sweep failed to expire",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mtregistry_sweep_duration_seconds",
			Help:    "Duration of one timeout sweep pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mtregistry_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Middleware records request latency labelled with the matched chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
