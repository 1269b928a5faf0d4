package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokenx-labs/fdc-validator/metrics"
)

// HTTPMetrics holds the API request collectors.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers the API collectors on reg.
func NewHTTPMetrics(reg *metrics.ComponentRegistry) *HTTPMetrics {
	return &HTTPMetrics{
		Requests: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "method", "code"}),
		Duration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: metrics.DurationBuckets,
		}, []string{"route", "method"}),
	}
}

// Metrics records per-route counters. It must run as router middleware so
// the matched route is known; paths are labeled by template, never by value.
func Metrics(m *HTTPMetrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
			m.Duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unmatched"
	}
	if name := route.GetName(); name != "" {
		return name
	}
	if tpl, err := route.GetPathTemplate(); err == nil {
		return tpl
	}
	return "unnamed"
}
