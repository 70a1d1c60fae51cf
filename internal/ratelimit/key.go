package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/alo17/secgateway/internal/ratelimit/store"
)

// UnknownClient is the client identity used when no forwarding header is set.
const UnknownClient = "unknown"

// Authentication states used in rate limit keys.
const (
	AuthStateAuthenticated = "authenticated"
	AuthStateAnonymous     = "anonymous"
)

// GetClientIP extracts the client IP from forwarding headers. It returns an
// empty string when none is present.
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	// Check X-Real-IP header
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	// Check CF-Connecting-IP header (Cloudflare)
	if cfip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cfip != "" {
		return cfip
	}

	return ""
}

// RemoteIP returns RemoteAddr without the port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}

// GetAuthState reports whether the request carries a bearer token. The token
// itself is never decoded.
func GetAuthState(r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return AuthStateAuthenticated
	}
	return AuthStateAnonymous
}

// KeyFunc derives the store key for a request in the given class.
type KeyFunc func(r *http.Request, class string) store.Key

// HeaderKeyFunc keys requests by forwarding headers, auth state and user
// agent. Clients without forwarding headers share the "unknown" identity.
func HeaderKeyFunc(r *http.Request, class string) store.Key {
	ip := GetClientIP(r)
	if ip == "" {
		ip = UnknownClient
	}
	return store.NewKey(class, ip, GetAuthState(r), r.UserAgent())
}

// RemoteAddrFallbackKeyFunc is HeaderKeyFunc, except that clients without
// forwarding headers are keyed by their socket address.
func RemoteAddrFallbackKeyFunc(r *http.Request, class string) store.Key {
	ip := GetClientIP(r)
	if ip == "" {
		ip = RemoteIP(r)
	}
	if ip == "" {
		ip = UnknownClient
	}
	return store.NewKey(class, ip, GetAuthState(r), r.UserAgent())
}
