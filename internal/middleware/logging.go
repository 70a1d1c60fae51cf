package middleware

import (
	"net/http"
	"time"

	"github.com/alo17/secgateway/internal/observability"
	"github.com/alo17/secgateway/internal/ratelimit"
)

// responseWriter captures the status code and size of a response.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// AccessLog returns a middleware that logs one line per request. Requests
// answered with 4xx or 5xx are logged at warn level.
func AccessLog(logger observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rw, r)

			clientIP := ratelimit.GetClientIP(r)
			if clientIP == "" {
				clientIP = ratelimit.RemoteIP(r)
			}

			fields := []observability.Field{
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", rw.status),
				observability.Int("size", rw.size),
				observability.Duration("latency", time.Since(start)),
				observability.String("client_ip", clientIP),
				observability.String("user_agent", r.UserAgent()),
			}

			log := logger.WithContext(r.Context())
			if rw.status >= http.StatusBadRequest {
				log.Warn("access", fields...)
				return
			}
			log.Info("access", fields...)
		})
	}
}
