// Package admin restricts the internal endpoints to an IP allow-list.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/alo17/secgateway/internal/audit"
	"github.com/alo17/secgateway/internal/observability"
	"github.com/alo17/secgateway/internal/ratelimit"
)

// MessageForbidden is the body of a refused request.
const MessageForbidden = "Access denied"

// DefaultAllowIPs admits loopback only.
func DefaultAllowIPs() []string {
	return []string{"127.0.0.1", "::1"}
}

// Guard admits requests whose client IP is on the allow-list. The list
// holds addresses or CIDR prefixes and can be replaced at runtime.
type Guard struct {
	allow          atomic.Pointer[[]netip.Prefix]
	trustForwarded bool
	recorder       *audit.Recorder
	logger         observability.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithTrustForwarded resolves the client from X-Forwarded-For and related
// headers instead of the socket peer. Only enable it behind a proxy that
// overwrites those headers.
func WithTrustForwarded(trust bool) Option {
	return func(g *Guard) {
		g.trustForwarded = trust
	}
}

// WithRecorder sets the security event recorder.
func WithRecorder(r *audit.Recorder) Option {
	return func(g *Guard) {
		g.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Guard for allow.
func New(allow []string, opts ...Option) (*Guard, error) {
	g := &Guard{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.SetAllowList(allow); err != nil {
		return nil, err
	}
	return g, nil
}

// ParseAllowList parses addresses and CIDR prefixes.
func ParseAllowList(allow []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(allow))
	for _, entry := range allow {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid admin prefix %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid admin address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// SetAllowList replaces the allow-list. An empty list refuses everyone.
func (g *Guard) SetAllowList(allow []string) error {
	prefixes, err := ParseAllowList(allow)
	if err != nil {
		return err
	}
	g.allow.Store(&prefixes)
	return nil
}

// ClientIP returns the address the allow-list is checked against.
func (g *Guard) ClientIP(r *http.Request) string {
	if g.trustForwarded {
		if ip := ratelimit.GetClientIP(r); ip != "" {
			return ip
		}
	}
	return ratelimit.RemoteIP(r)
}

// Allowed reports whether ip is on the allow-list.
func (g *Guard) Allowed(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.WithZone("").Unmap()

	for _, p := range *g.allow.Load() {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Check reports whether r may reach an internal endpoint. Refusals are
// recorded as high severity admin_access events.
func (g *Guard) Check(ctx context.Context, r *http.Request) bool {
	ip := g.ClientIP(r)
	if g.Allowed(ip) {
		g.logger.WithContext(ctx).Debug("admin access granted",
			observability.String("ip", ip),
			observability.String("path", r.URL.Path),
		)
		return true
	}

	g.recorder.Record(ctx, audit.NewEvent(audit.EventAdminAccess, audit.SeverityHigh, ip).
		WithUserAgent(r.UserAgent()).
		WithDetail("reason", "ip_not_whitelisted").
		WithDetail("method", r.Method).
		WithDetail("path", r.URL.Path))
	g.logger.WithContext(ctx).Warn("admin access denied",
		observability.String("ip", ip),
		observability.String("path", r.URL.Path),
	)
	return false
}

// GinMiddleware aborts requests from clients off the allow-list with 403.
func (g *Guard) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Check(c.Request.Context(), c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": MessageForbidden})
			return
		}
		c.Next()
	}
}
