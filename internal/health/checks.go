package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alo17/secgateway/internal/ratelimit/store"
)

// probeKey is never incremented, so Get on it reports not found on a
// working store.
var probeKey = store.NewKey("health", "probe", "", "")

// StoreHealthCheck reports whether the rate limit store answers reads.
func StoreHealthCheck(name string, st store.Store) HealthCheck {
	return NewHealthCheckFunc(name, func(ctx context.Context) error {
		if st == nil {
			return fmt.Errorf("rate limit store is nil")
		}
		if _, err := st.Get(ctx, probeKey); err != nil && !store.IsKeyNotFound(err) {
			return fmt.Errorf("rate limit store unavailable: %w", err)
		}
		return nil
	})
}

// TimeoutHealthCheck bounds a health check's duration.
type TimeoutHealthCheck struct {
	check   HealthCheck
	timeout time.Duration
}

// NewTimeoutHealthCheck wraps check with a timeout.
func NewTimeoutHealthCheck(check HealthCheck, timeout time.Duration) *TimeoutHealthCheck {
	return &TimeoutHealthCheck{check: check, timeout: timeout}
}

// Name returns the name of the wrapped check.
func (t *TimeoutHealthCheck) Name() string {
	return t.check.Name()
}

// Check runs the wrapped check, giving up after the timeout.
func (t *TimeoutHealthCheck) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.check.Check(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("health check timed out after %v", t.timeout)
	}
}

// CachedHealthCheck reuses a check's result for a TTL.
type CachedHealthCheck struct {
	check    HealthCheck
	cacheTTL time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastResult error
}

// NewCachedHealthCheck wraps check with a result cache.
func NewCachedHealthCheck(check HealthCheck, cacheTTL time.Duration) *CachedHealthCheck {
	return &CachedHealthCheck{check: check, cacheTTL: cacheTTL}
}

// Name returns the name of the wrapped check.
func (c *CachedHealthCheck) Name() string {
	return c.check.Name()
}

// Check returns the cached result or refreshes it once expired.
func (c *CachedHealthCheck) Check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCheck.IsZero() && time.Since(c.lastCheck) < c.cacheTTL {
		return c.lastResult
	}

	c.lastResult = c.check.Check(ctx)
	c.lastCheck = time.Now()
	return c.lastResult
}
