package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alo17/secgateway/internal/middleware"
	"github.com/alo17/secgateway/internal/ratelimit"
	"github.com/alo17/secgateway/internal/sanitize"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// echoName writes back the sanitized "name" field.
func echoName(t *testing.T, called *bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*called = true
		body, ok := SanitizedBody(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		obj, isObj := body.(sanitize.Object)
		require.True(t, isObj)
		_, _ = w.Write([]byte(obj.GetString("name")))
	}
}

// ============================================================================
// net/http
// ============================================================================

func TestMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		body       string
		headers    map[string]string
		wantStatus int
		wantCalled bool
		wantBody   string
	}{
		{
			name:       "sanitized body reaches handler",
			method:     http.MethodPost,
			body:       `{"name":"a; b"}`,
			headers:    map[string]string{"Origin": testOrigin},
			wantStatus: http.StatusOK,
			wantCalled: true,
			wantBody:   "a[BLOCKED] b",
		},
		{
			name:       "GET without body",
			method:     http.MethodGet,
			wantStatus: http.StatusNoContent,
			wantCalled: true,
		},
		{
			name:       "preflight answered",
			method:     http.MethodOptions,
			headers:    map[string]string{"Origin": testOrigin},
			wantStatus: http.StatusOK,
		},
		{
			name:       "CORS denial",
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://evil.example"},
			wantStatus: http.StatusForbidden,
			wantBody:   `{"error":"CORS policy violation"}`,
		},
		{
			name:       "malformed body",
			method:     http.MethodPost,
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid request body"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, DefaultConfig(), nil)

			var called bool
			h := f.gw.Middleware(ratelimit.ClassAPI)(echoName(t, &called))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, newRequest(tt.method, tt.body, tt.headers))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantBody, w.Body.String())
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			if origin := tt.headers["Origin"]; origin == testOrigin {
				assert.Equal(t, testOrigin, w.Header().Get(middleware.HeaderAllowOrigin))
			}
		})
	}
}

func TestMiddleware_RateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), nil)

	var called bool
	h := f.gw.Middleware(ratelimit.ClassAuth)(echoName(t, &called))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, newRequest(http.MethodGet, "", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	called = false
	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, called)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRetryAfter))
	assert.Equal(t, middleware.ContentTypeJSON, w.Header().Get(middleware.HeaderContentType))
}

func TestSanitizedBody_Missing(t *testing.T) {
	t.Parallel()

	body, ok := SanitizedBody(context.Background())
	assert.False(t, ok)
	assert.Nil(t, body)

	body, ok = SanitizedBody(ContextWithSanitizedBody(context.Background(), []any{"x"}))
	assert.True(t, ok)
	assert.Equal(t, []any{"x"}, body)
}

// ============================================================================
// gin
// ============================================================================

func TestGinMiddleware(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig(), nil)

	var called bool
	engine := gin.New()
	engine.POST("/api/test", f.gw.GinMiddleware(ratelimit.ClassAPI), func(c *gin.Context) {
		called = true
		body, ok := SanitizedBody(c.Request.Context())
		require.True(t, ok)
		c.String(http.StatusCreated, body.(sanitize.Object).GetString("name"))
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, newRequest(http.MethodPost, `{"name":"x' OR 1=1"}`, nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "x[BLOCKED] [BLOCKED]", w.Body.String())
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	called = false
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, newRequest(http.MethodPost, `not json`, nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid request body"}`, w.Body.String())
}
