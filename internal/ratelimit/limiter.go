// Package ratelimit provides per-class fixed-window rate limiting for the
// security gateway.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alo17/secgateway/internal/observability"
	"github.com/alo17/secgateway/internal/ratelimit/store"
)

// UnavailableMessage is returned when a fail-closed policy cannot reach its store.
const UnavailableMessage = "Service temporarily unavailable"

// Denial describes why a request was refused.
type Denial struct {
	Message    string
	StatusCode int
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Denied is set when Allowed is false.
	Denied *Denial

	// Class is the policy class that was applied after fallback.
	Class string

	// Limit is the maximum number of requests allowed.
	Limit uint64

	// Remaining is the number of requests remaining in the current window.
	Remaining uint64

	// Count is the number of hits recorded in the current window.
	Count uint64

	// ResetAfter is the duration until the window resets.
	ResetAfter time.Duration

	// Err holds a store failure. With a fail-open policy the request is
	// still allowed.
	Err error
}

// ClassStats summarizes one policy class.
type ClassStats struct {
	Window      time.Duration `json:"window"`
	MaxRequests uint64        `json:"maxRequests"`
	ActiveKeys  int           `json:"activeKeys"`
}

// Limiter applies policies to requests using a shared store.
type Limiter struct {
	store    store.Store
	policies atomic.Pointer[PolicySet]
	keyFunc  KeyFunc
	logger   observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithPolicies sets the initial policy set.
func WithPolicies(ps PolicySet) Option {
	return func(l *Limiter) {
		if len(ps) > 0 {
			clone := ps.Clone()
			l.policies.Store(&clone)
		}
	}
}

// WithFallbackToRemoteAddr keys clients without forwarding headers by their
// socket address instead of the shared "unknown" identity.
func WithFallbackToRemoteAddr(enabled bool) Option {
	return func(l *Limiter) {
		if enabled {
			l.keyFunc = RemoteAddrFallbackKeyFunc
		} else {
			l.keyFunc = HeaderKeyFunc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink used by Stats.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithClock overrides the time source used for ResetAfter.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter over s.
func New(s store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:   s,
		keyFunc: HeaderKeyFunc,
		logger:  observability.NopLogger(),
		now:     time.Now,
	}

	defaults := DefaultPolicies()
	l.policies.Store(&defaults)

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Check counts the request against its class budget.
func (l *Limiter) Check(ctx context.Context, r *http.Request, class string) Result {
	name, policy := l.snapshot().Lookup(class)
	key := l.keyFunc(r, name)

	rec, err := l.store.Increment(ctx, key, policy.Window)
	if err != nil {
		return l.storeFailure(name, policy, key, err)
	}

	res := Result{
		Class:      name,
		Limit:      policy.MaxRequests,
		Count:      rec.Count,
		ResetAfter: max(rec.ResetTime.Sub(l.now()), 0),
	}

	if rec.Count > policy.MaxRequests {
		res.Denied = &Denial{Message: policy.Message, StatusCode: policy.StatusCode}
		return res
	}

	res.Allowed = true
	res.Remaining = policy.MaxRequests - rec.Count
	return res
}

func (l *Limiter) storeFailure(class string, policy Policy, key store.Key, err error) Result {
	if !errors.Is(err, store.ErrStore) {
		err = errors.Join(store.ErrStore, err)
	}

	l.logger.Error("rate limit store failure",
		observability.String("class", class),
		observability.String("key", key.String()),
		observability.Bool("fail_open", policy.FailOpen),
		observability.Error(err),
	)

	res := Result{
		Class: class,
		Limit: policy.MaxRequests,
		Err:   err,
	}

	if policy.FailOpen {
		res.Allowed = true
		return res
	}

	res.Denied = &Denial{Message: UnavailableMessage, StatusCode: http.StatusServiceUnavailable}
	return res
}

// UpdatePolicies atomically replaces the whole policy set. Existing records
// keep their window until they expire.
func (l *Limiter) UpdatePolicies(ps PolicySet) error {
	if err := ps.Validate(); err != nil {
		return err
	}

	clone := ps.Clone()
	l.policies.Store(&clone)

	l.logger.Info("rate limit policies updated",
		observability.Int("classes", len(clone)),
	)
	return nil
}

// Policies returns a copy of the active policy set.
func (l *Limiter) Policies() PolicySet {
	return l.snapshot().Clone()
}

// Stats returns per-class policy settings and live key counts.
func (l *Limiter) Stats() map[string]ClassStats {
	policies := l.snapshot()
	active := l.store.CountByClass()

	stats := make(map[string]ClassStats, len(policies))
	for name, p := range policies {
		stats[name] = ClassStats{
			Window:      p.Window,
			MaxRequests: p.MaxRequests,
			ActiveKeys:  active[name],
		}
		l.metrics.SetActiveKeys(name, active[name])
	}

	return stats
}

func (l *Limiter) snapshot() PolicySet {
	return *l.policies.Load()
}
