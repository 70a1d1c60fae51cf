package security

import (
	"net/http"
)

// HeaderSet is an immutable set of headers applied to every response.
type HeaderSet struct {
	headers http.Header
}

// NewHeaderSet renders cfg into a HeaderSet. A nil config yields the defaults.
func NewHeaderSet(cfg *Config) HeaderSet {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	h := make(http.Header)

	if headers := cfg.Headers; headers != nil {
		setIfNotEmpty(h, "X-Content-Type-Options", headers.XContentTypeOptions)
		setIfNotEmpty(h, "X-Frame-Options", headers.XFrameOptions)
		setIfNotEmpty(h, "X-XSS-Protection", headers.XXSSProtection)

		for name, value := range headers.CustomHeaders {
			setIfNotEmpty(h, name, value)
		}
	}

	setIfNotEmpty(h, "Referrer-Policy", cfg.ReferrerPolicy)
	setIfNotEmpty(h, "Content-Security-Policy", cfg.ContentSecurityPolicy)

	if cfg.PermissionsPolicy != nil {
		setIfNotEmpty(h, "Permissions-Policy", cfg.PermissionsPolicy.value())
	}

	if cfg.HSTS != nil && cfg.HSTS.Enabled {
		h.Set("Strict-Transport-Security", cfg.HSTS.value())
	}

	return HeaderSet{headers: h}
}

// DefaultHeaderSet returns the HeaderSet for DefaultConfig.
func DefaultHeaderSet() HeaderSet {
	return NewHeaderSet(DefaultConfig())
}

// Apply sets every header in the set on dst, replacing existing values.
func (s HeaderSet) Apply(dst http.Header) {
	for name, values := range s.headers {
		dst[name] = append([]string(nil), values...)
	}
}

// Get returns the value of one header.
func (s HeaderSet) Get(name string) string {
	return s.headers.Get(name)
}

// Len returns the number of headers in the set.
func (s HeaderSet) Len() int {
	return len(s.headers)
}

// Header returns a copy of the set as an http.Header.
func (s HeaderSet) Header() http.Header {
	return s.headers.Clone()
}

// Handler returns an HTTP middleware that sets the headers before the
// wrapped handler runs.
func Handler(current func() HeaderSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current().Apply(w.Header())
			next.ServeHTTP(w, r)
		})
	}
}

func setIfNotEmpty(h http.Header, name, value string) {
	if value != "" {
		h.Set(name, value)
	}
}
