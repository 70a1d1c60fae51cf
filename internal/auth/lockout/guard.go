// Package lockout blocks login attempts from a client after repeated
// failures.
package lockout

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alo17/secgateway/internal/audit"
	"github.com/alo17/secgateway/internal/observability"
	"github.com/alo17/secgateway/internal/ratelimit/store"
)

const (
	// DefaultMaxAttempts is the number of failures that triggers a lock.
	DefaultMaxAttempts = 5

	// DefaultLockoutDuration is how long a lock lasts.
	DefaultLockoutDuration = 15 * time.Minute

	// ClassFailures and ClassLocked are the store classes used for the
	// failure counter and the lock marker.
	ClassFailures = "login_failures"
	ClassLocked   = "login_locked"

	// UnavailableReason is returned when the store cannot be read.
	UnavailableReason = "Service temporarily unavailable"
)

// Status is the outcome of a lockout check.
type Status struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	Err        error
}

// Guard tracks failed logins per client IP in a rate limit store.
type Guard struct {
	store       store.Store
	maxAttempts uint64
	lockout     time.Duration
	recorder    *audit.Recorder
	logger      observability.Logger
	now         func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithMaxAttempts sets the failure threshold.
func WithMaxAttempts(n uint64) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithLockoutDuration sets the lock length. It also bounds how long
// failures are remembered.
func WithLockoutDuration(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.lockout = d
		}
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

// WithClock sets the time source used to compute RetryAfter.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a Guard on top of s.
func New(s store.Store, opts ...Option) *Guard {
	g := &Guard{
		store:       s,
		maxAttempts: DefaultMaxAttempts,
		lockout:     DefaultLockoutDuration,
		logger:      observability.NopLogger(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func failureKey(ip string) store.Key {
	return store.Key{Class: ClassFailures, ClientIP: ip}
}

func lockKey(ip string) store.Key {
	return store.Key{Class: ClassLocked, ClientIP: ip}
}

// Check reports whether ip may attempt a login. Store failures deny.
func (g *Guard) Check(ctx context.Context, ip, email string) Status {
	rec, err := g.store.Get(ctx, lockKey(ip))
	switch {
	case store.IsKeyNotFound(err):
		return Status{Allowed: true}
	case err != nil:
		g.logger.WithContext(ctx).Error("lockout store read failed",
			observability.String("ip", ip),
			observability.Error(err),
		)
		return Status{Reason: UnavailableReason, Err: err}
	}

	remaining := rec.ResetTime.Sub(g.now())
	if remaining <= 0 {
		return Status{Allowed: true}
	}
	minutes := int(math.Ceil(remaining.Minutes()))

	g.recorder.Record(ctx, audit.NewEvent(audit.EventLoginAttempt, audit.SeverityMedium, ip).
		WithDetail("email", email).
		WithDetail("reason", "account_locked").
		WithDetail("remaining_minutes", minutes))

	return Status{
		Reason:     fmt.Sprintf("Account locked. Try again in %d minutes.", minutes),
		RetryAfter: remaining,
	}
}

// RecordFailure counts a failed login. Reaching the threshold locks ip for
// the lockout duration and reports true.
func (g *Guard) RecordFailure(ctx context.Context, ip, email, reason string) (bool, error) {
	rec, err := g.store.Increment(ctx, failureKey(ip), g.lockout)
	if err != nil {
		return false, fmt.Errorf("record login failure: %w", err)
	}

	if rec.Count < g.maxAttempts {
		g.recorder.Record(ctx, audit.NewEvent(audit.EventFailedLogin, audit.SeverityMedium, ip).
			WithDetail("email", email).
			WithDetail("reason", reason).
			WithDetail("attempts", rec.Count))
		return false, nil
	}

	if _, err := g.store.Increment(ctx, lockKey(ip), g.lockout); err != nil {
		return false, fmt.Errorf("lock client: %w", err)
	}
	if err := g.store.Delete(ctx, failureKey(ip)); err != nil {
		g.logger.WithContext(ctx).Warn("failed to reset login failures",
			observability.String("ip", ip),
			observability.Error(err),
		)
	}

	g.recorder.Record(ctx, audit.NewEvent(audit.EventFailedLogin, audit.SeverityHigh, ip).
		WithDetail("email", email).
		WithDetail("reason", "max_attempts_exceeded").
		WithDetail("attempts", rec.Count).
		WithDetail("lockout_minutes", int(g.lockout.Minutes())))

	g.logger.WithContext(ctx).Warn("client locked out after failed logins",
		observability.String("ip", ip),
		observability.Uint64("attempts", rec.Count),
		observability.Duration("lockout", g.lockout),
	)

	return true, nil
}

// RecordSuccess clears the failure counter for ip.
func (g *Guard) RecordSuccess(ctx context.Context, ip, email, userID string) error {
	if err := g.store.Delete(ctx, failureKey(ip)); err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}

	g.recorder.Record(ctx, audit.NewEvent(audit.EventLoginAttempt, audit.SeverityLow, ip).
		WithUser(userID).
		WithDetail("email", email).
		WithDetail("success", true))

	return nil
}

// Clear forgets the failures of ip and lifts its lock.
func (g *Guard) Clear(ctx context.Context, ip string) error {
	if err := g.store.Delete(ctx, failureKey(ip)); err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}
	if err := g.store.Delete(ctx, lockKey(ip)); err != nil {
		return fmt.Errorf("clear lock: %w", err)
	}
	g.logger.WithContext(ctx).Info("login lockout cleared", observability.String("ip", ip))
	return nil
}

// ClearAll forgets every failure and lifts every lock. It returns the
// number of clients that were locked.
func (g *Guard) ClearAll(ctx context.Context) (int, error) {
	if _, err := g.store.DeleteClass(ctx, ClassFailures); err != nil {
		return 0, fmt.Errorf("clear login failures: %w", err)
	}
	unlocked, err := g.store.DeleteClass(ctx, ClassLocked)
	if err != nil {
		return 0, fmt.Errorf("clear locks: %w", err)
	}
	g.logger.WithContext(ctx).Info("all login lockouts cleared", observability.Int("unlocked", unlocked))
	return unlocked, nil
}

// Locked returns the number of clients currently locked out.
func (g *Guard) Locked() int {
	return g.store.CountByClass()[ClassLocked]
}
