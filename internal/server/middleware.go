package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/corpusd/corpusd/internal/metrics"
)

// slowRequestThreshold is the duration above which requests are logged
// at WARN level. Uploads embed synchronously, so the bar is generous.
const slowRequestThreshold = 2 * time.Second

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer so the websocket upgrader can
// hijack the connection.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// LoggingMiddleware logs every request with timing and records the
// latency histogram. Slow requests are logged at WARN level, server
// errors at ERROR. collectors may be nil.
func LoggingMiddleware(logger *slog.Logger, collectors *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Websocket upgrades need the raw ResponseWriter
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			// r.Pattern is set by the mux once the route matched
			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			}
			collectors.ObserveRequest(route, fmt.Sprintf("%dxx", rec.status/100), duration)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", duration.Milliseconds(),
			}

			switch {
			case rec.status >= http.StatusInternalServerError:
				logger.Error("request failed", attrs...)
			case duration > slowRequestThreshold:
				logger.Warn("slow request", attrs...)
			default:
				logger.Debug("request completed", attrs...)
			}
		})
	}
}
