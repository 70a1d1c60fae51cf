package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alo17/secgateway/internal/ratelimit/store"
)

// ============================================================================
// Test Cases for GetClientIP
// ============================================================================

func TestGetClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{
			name:     "no headers",
			expected: "",
		},
		{
			name:     "X-Forwarded-For first entry",
			headers:  map[string]string{"X-Forwarded-For": " 10.0.0.1 , 10.0.0.2"},
			expected: "10.0.0.1",
		},
		{
			name:     "X-Real-IP header",
			headers:  map[string]string{"X-Real-IP": "10.0.0.5"},
			expected: "10.0.0.5",
		},
		{
			name:     "CF-Connecting-IP header",
			headers:  map[string]string{"CF-Connecting-IP": "10.0.0.10"},
			expected: "10.0.0.10",
		},
		{
			name: "X-Forwarded-For wins over the rest",
			headers: map[string]string{
				"X-Forwarded-For":  "10.0.0.1",
				"X-Real-IP":        "10.0.0.5",
				"CF-Connecting-IP": "10.0.0.10",
			},
			expected: "10.0.0.1",
		},
		{
			name: "X-Real-IP wins over CF-Connecting-IP",
			headers: map[string]string{
				"X-Real-IP":        "10.0.0.5",
				"CF-Connecting-IP": "10.0.0.10",
			},
			expected: "10.0.0.5",
		},
		{
			name:     "True-Client-IP is ignored",
			headers:  map[string]string{"True-Client-IP": "10.0.0.15"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, GetClientIP(req))
		})
	}
}

func TestRemoteIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remoteAddr string
		expected   string
	}{
		{"192.168.1.1:8080", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"192.168.1.1", "192.168.1.1"},
		{"[2001:db8::1]", "2001:db8::1"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = tt.remoteAddr
		assert.Equal(t, tt.expected, RemoteIP(req), tt.remoteAddr)
	}
}

func TestGetAuthState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header   string
		expected string
	}{
		{"", AuthStateAnonymous},
		{"Bearer eyJhbGciOi", AuthStateAuthenticated},
		{"Basic dXNlcjpwYXNz", AuthStateAnonymous},
		{"bearer lowercase", AuthStateAnonymous},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.expected, GetAuthState(req), tt.header)
	}
}

// ============================================================================
// Test Cases for KeyFuncs
// ============================================================================

func TestHeaderKeyFunc(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("User-Agent", "UA")

	key := HeaderKeyFunc(req, ClassAPI)
	assert.Equal(t, store.NewKey(ClassAPI, UnknownClient, AuthStateAnonymous, "UA"), key)
}

func TestRemoteAddrFallbackKeyFunc(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "203.0.113.5:1234"

	assert.Equal(t, "203.0.113.5", RemoteAddrFallbackKeyFunc(req, ClassAPI).ClientIP)

	req.Header.Set("X-Real-IP", "10.1.1.1")
	assert.Equal(t, "10.1.1.1", RemoteAddrFallbackKeyFunc(req, ClassAPI).ClientIP)
}
