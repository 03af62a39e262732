// Package middleware provides HTTP middleware for metrics collection and request logging.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/neurosched/internal/metrics"
	"github.com/rs/zerolog"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// LoggingMiddleware logs one line per request at debug level, or warn for
// server errors.
func LoggingMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		event := logger.Debug()
		if wrapped.statusCode >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/tasks/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/tasks/"), "/")
		switch {
		case len(parts) == 1:
			return "/api/tasks/:id"
		case len(parts) == 2 && parts[1] == "cancel":
			return "/api/tasks/:id/cancel"
		case len(parts) == 3 && parts[1] == "dependencies":
			return "/api/tasks/:id/dependencies/:dep"
		default:
			return path
		}
	case strings.HasPrefix(path, "/api/history/type/"):
		return "/api/history/type/:type"
	case strings.HasPrefix(path, "/api/history/archived/"):
		return "/api/history/archived/:run/:id"
	case strings.HasPrefix(path, "/api/history/"):
		switch strings.TrimPrefix(path, "/api/history/") {
		case "recent", "stats", "archived", "runs":
			return path
		default:
			return "/api/history/:run/:id"
		}
	default:
		return path
	}
}
