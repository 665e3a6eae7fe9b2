// Package middleware provides the gateway's HTTP middleware: request IDs,
// CORS, Prometheus instrumentation, and per-route timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medisight/healthdata-platform/pkg/metrics"
)

// routePrefixes are the routes that embed a record or outcome identifier.
// The ID segment is collapsed to keep metric label cardinality bounded.
var routePrefixes = []string{
	"/api/v1/patients/",
	"/api/v1/visits/",
	"/api/v1/prescriptions/",
	"/api/v1/outcomes/",
}

// Metrics records request count, latency, and in-flight gauge for every
// request passing through it.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := metricRoute(r.URL.Path)
			m.HTTPRequestsTotal.
				WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
				Inc()
			m.HTTPRequestDuration.
				WithLabelValues(r.Method, route).
				Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func metricRoute(path string) string {
	for _, prefix := range routePrefixes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + ":id"
		}
	}
	return path
}
