package middleware

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/alo17/secgateway/internal/observability"
)

// Recovery returns a middleware that recovers from panics and answers 500.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
						panic(err)
					}

					logger.WithContext(r.Context()).Error("panic recovered",
						observability.String("path", r.URL.Path),
						observability.String("method", r.Method),
						observability.Any("error", err),
						observability.String("stack", string(debug.Stack())),
					)

					w.Header().Set(HeaderContentType, ContentTypeJSON)
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = io.WriteString(w, ErrInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
