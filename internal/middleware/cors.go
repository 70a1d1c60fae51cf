package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORS response header names.
const (
	HeaderAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderExposeHeaders    = "Access-Control-Expose-Headers"
	HeaderMaxAge           = "Access-Control-Max-Age"
	HeaderVary             = "Vary"
)

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns the marketplace frontends' CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{
			"https://alo17.netlify.app",
			"https://alo17.vercel.app",
			"http://localhost:3000",
			"http://localhost:3001",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin"},
		AllowCredentials: true,
	}
}

// CORSResult is the outcome of evaluating one request.
type CORSResult struct {
	Allowed bool

	// Headers is only set when Allowed is true. It is a fresh copy the
	// caller may modify.
	Headers http.Header
}

// CORSPolicy evaluates requests against pre-computed allow-lists. It is
// immutable and safe for concurrent use.
type CORSPolicy struct {
	allowOrigins     map[string]bool
	wildcardPatterns []string // Patterns like "*.example.com"
	allowAllOrigins  bool
	allowMethods     []string
	base             http.Header
}

// NewCORSPolicy creates a policy from config.
func NewCORSPolicy(cfg CORSConfig) *CORSPolicy {
	p := &CORSPolicy{
		allowOrigins: make(map[string]bool, len(cfg.AllowOrigins)),
		allowMethods: slices.Clone(cfg.AllowMethods),
		base:         make(http.Header),
	}

	for _, origin := range cfg.AllowOrigins {
		switch {
		case origin == "*":
			p.allowAllOrigins = true
		case strings.HasPrefix(origin, "*."):
			// Wildcard subdomain pattern like "*.example.com"
			p.wildcardPatterns = append(p.wildcardPatterns, origin)
		default:
			p.allowOrigins[origin] = true
		}
	}

	if len(cfg.AllowMethods) > 0 {
		p.base.Set(HeaderAllowMethods, strings.Join(cfg.AllowMethods, ", "))
	}
	if len(cfg.AllowHeaders) > 0 {
		p.base.Set(HeaderAllowHeaders, strings.Join(cfg.AllowHeaders, ", "))
	}
	if len(cfg.ExposeHeaders) > 0 {
		p.base.Set(HeaderExposeHeaders, strings.Join(cfg.ExposeHeaders, ", "))
	}
	if cfg.AllowCredentials {
		p.base.Set(HeaderAllowCredentials, "true")
	}
	if cfg.MaxAge > 0 {
		p.base.Set(HeaderMaxAge, strconv.Itoa(cfg.MaxAge))
	}

	return p
}

// Evaluate decides whether a request with the given Origin header (empty
// when absent) and method may proceed. A present origin outside the
// allow-list is denied whatever the method.
func (p *CORSPolicy) Evaluate(origin, method string) CORSResult {
	if origin != "" && !p.isOriginAllowed(origin) {
		return CORSResult{}
	}

	if !slices.Contains(p.allowMethods, method) {
		return CORSResult{}
	}

	headers := p.base.Clone()
	if origin != "" {
		// Echo the specific origin; credentialed requests reject "*".
		headers.Set(HeaderAllowOrigin, origin)
		headers.Set(HeaderVary, HeaderOrigin)
	}

	return CORSResult{Allowed: true, Headers: headers}
}

// isOriginAllowed checks if the given origin is allowed.
func (p *CORSPolicy) isOriginAllowed(origin string) bool {
	if p.allowAllOrigins || p.allowOrigins[origin] {
		return true
	}

	for _, pattern := range p.wildcardPatterns {
		if matchWildcardOrigin(origin, pattern) {
			return true
		}
	}

	return false
}

// matchWildcardOrigin checks if an origin matches a wildcard pattern.
// Pattern format: "*.example.com" matches "sub.example.com", "api.example.com", etc.
func matchWildcardOrigin(origin, pattern string) bool {
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}

	suffix := pattern[1:]

	// Origin format: "https://sub.example.com" or "http://sub.example.com:8080"
	host := origin
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+3:]
	}
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	return len(host) > len(suffix) && strings.HasSuffix(host, suffix)
}
