package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/notez/internal/metrics"
)

// Metrics records request count and latency per route pattern. It must wrap
// the ServeMux directly so the matched pattern is visible on r afterwards.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		metrics.RequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}
