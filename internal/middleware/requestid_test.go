package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alo17/secgateway/internal/observability"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		existingRequestID string
		expectNewID       bool
	}{
		{
			name:              "generates new request ID",
			existingRequestID: "",
			expectNewID:       true,
		},
		{
			name:              "uses existing request ID",
			existingRequestID: "existing-request-id-123",
			expectNewID:       false,
		},
		{
			name:              "replaces oversized request ID",
			existingRequestID: strings.Repeat("x", maxRequestIDLength+1),
			expectNewID:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var capturedRequestID string
			handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedRequestID = observability.RequestIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.existingRequestID != "" {
				req.Header.Set(HeaderXRequestID, tt.existingRequestID)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			responseRequestID := rec.Header().Get(HeaderXRequestID)
			assert.NotEmpty(t, responseRequestID)
			assert.Equal(t, responseRequestID, capturedRequestID)

			if tt.expectNewID {
				assert.NotEqual(t, tt.existingRequestID, responseRequestID)
				assert.Len(t, responseRequestID, 36)
			} else {
				assert.Equal(t, tt.existingRequestID, responseRequestID)
			}
		})
	}
}

func TestRequestIDWithGenerator(t *testing.T) {
	t.Parallel()

	handler := RequestIDWithGenerator(func() string { return "fixed-id" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, "fixed-id", rec.Header().Get(HeaderXRequestID))
}
