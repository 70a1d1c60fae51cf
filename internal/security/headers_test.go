package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHeaderSet(t *testing.T) {
	t.Parallel()

	set := DefaultHeaderSet()

	expected := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"Permissions-Policy":        "camera=(), microphone=(), geolocation=()",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	}

	assert.Equal(t, len(expected), set.Len())
	for name, value := range expected {
		assert.Equal(t, value, set.Get(name), name)
	}
}

func TestNewHeaderSet_NilConfig(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultHeaderSet().Header(), NewHeaderSet(nil).Header())
}

func TestNewHeaderSet_Custom(t *testing.T) {
	t.Parallel()

	set := NewHeaderSet(&Config{
		Headers: &HeadersConfig{
			XFrameOptions: "SAMEORIGIN",
			CustomHeaders: map[string]string{"x-powered-by": "alo17", "X-Empty": ""},
		},
		HSTS: &HSTSConfig{Enabled: true, MaxAge: 63072000, IncludeSubDomains: true, Preload: true},
		PermissionsPolicy: &PermissionsPolicyConfig{
			Features: map[string][]string{"geolocation": {"self"}, "camera": nil},
		},
		ContentSecurityPolicy: "default-src 'self'",
	})

	assert.Equal(t, "SAMEORIGIN", set.Get("X-Frame-Options"))
	assert.Equal(t, "alo17", set.Get("X-Powered-By"))
	assert.Empty(t, set.Get("X-Empty"))
	assert.Empty(t, set.Get("X-Content-Type-Options"))
	assert.Equal(t, "max-age=63072000; includeSubDomains; preload", set.Get("Strict-Transport-Security"))
	assert.Equal(t, "camera=(), geolocation=(self)", set.Get("Permissions-Policy"))
	assert.Equal(t, "default-src 'self'", set.Get("Content-Security-Policy"))
}

func TestNewHeaderSet_HSTSDisabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.HSTS.Enabled = false

	assert.Empty(t, NewHeaderSet(cfg).Get("Strict-Transport-Security"))
}

func TestHeaderSet_Apply(t *testing.T) {
	t.Parallel()

	set := DefaultHeaderSet()
	dst := http.Header{}
	dst.Set("X-Frame-Options", "SAMEORIGIN")
	dst.Set("Content-Type", "application/json")

	set.Apply(dst)

	assert.Equal(t, "DENY", dst.Get("X-Frame-Options"))
	assert.Equal(t, "application/json", dst.Get("Content-Type"))

	// Mutating the destination must not leak back into the set.
	dst["X-Frame-Options"][0] = "tampered"
	assert.Equal(t, "DENY", set.Get("X-Frame-Options"))
}

func TestHandler(t *testing.T) {
	t.Parallel()

	set := DefaultHeaderSet()
	handler := Handler(func() HeaderSet { return set })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", rec.Header().Get("Strict-Transport-Security"))
}
