package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alo17/secgateway/internal/ratelimit/store"
)

// failingStore is a Store whose Increment always fails.
type failingStore struct {
	store.Store
	err error
}

func (f *failingStore) Increment(context.Context, store.Key, time.Duration) (store.Record, error) {
	return store.Record{}, f.err
}

func (f *failingStore) CountByClass() map[string]int { return map[string]int{} }

func newRequest(headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func newTestLimiter(t *testing.T, opts ...Option) *Limiter {
	t.Helper()
	s := store.NewMemoryStore(store.WithCleanupInterval(0))
	t.Cleanup(func() { _ = s.Close() })
	return New(s, opts...)
}

// ============================================================================
// Check Tests
// ============================================================================

func TestLimiter_Check_AuthBudget(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t)
	ctx := context.Background()
	req := newRequest(map[string]string{"X-Forwarded-For": "1.2.3.4", "User-Agent": "UA"})

	for i := 1; i <= 5; i++ {
		res := l.Check(ctx, req, ClassAuth)
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, uint64(i), res.Count)
		assert.Equal(t, uint64(5-i), res.Remaining)
		assert.Equal(t, uint64(5), res.Limit)
	}

	res := l.Check(ctx, req, ClassAuth)
	assert.False(t, res.Allowed)
	require.NotNil(t, res.Denied)
	assert.Equal(t, http.StatusTooManyRequests, res.Denied.StatusCode)
	assert.Equal(t, DefaultPolicies()[ClassAuth].Message, res.Denied.Message)
	assert.Equal(t, uint64(0), res.Remaining)
	assert.Greater(t, res.ResetAfter, time.Duration(0))
}

func TestLimiter_Check_UnknownClassFallsBackToDefault(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t)
	res := l.Check(context.Background(), newRequest(nil), "listings")

	assert.True(t, res.Allowed)
	assert.Equal(t, ClassDefault, res.Class)
	assert.Equal(t, uint64(100), res.Limit)
}

func TestLimiter_Check_ClassesAreIndependent(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, WithPolicies(PolicySet{
		ClassDefault: {Window: time.Minute, MaxRequests: 1, Message: "d", StatusCode: 429},
		ClassSearch:  {Window: time.Minute, MaxRequests: 1, Message: "s", StatusCode: 429},
	}))
	ctx := context.Background()
	req := newRequest(map[string]string{"X-Forwarded-For": "1.2.3.4"})

	assert.True(t, l.Check(ctx, req, ClassDefault).Allowed)
	assert.True(t, l.Check(ctx, req, ClassSearch).Allowed)
	assert.False(t, l.Check(ctx, req, ClassDefault).Allowed)
}

func TestLimiter_Check_KeyComponents(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, WithPolicies(PolicySet{
		ClassDefault: {Window: time.Minute, MaxRequests: 1, Message: "d", StatusCode: 429},
	}))
	ctx := context.Background()

	base := map[string]string{"X-Forwarded-For": "1.2.3.4", "User-Agent": "UA"}
	require.True(t, l.Check(ctx, newRequest(base), ClassDefault).Allowed)
	require.False(t, l.Check(ctx, newRequest(base), ClassDefault).Allowed)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"different ip", map[string]string{"X-Forwarded-For": "5.6.7.8", "User-Agent": "UA"}},
		{"different user agent", map[string]string{"X-Forwarded-For": "1.2.3.4", "User-Agent": "Other"}},
		{"authenticated", map[string]string{
			"X-Forwarded-For": "1.2.3.4", "User-Agent": "UA", "Authorization": "Bearer abc",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, l.Check(ctx, newRequest(tt.headers), ClassDefault).Allowed)
		})
	}
}

func TestLimiter_Check_UnknownClientsShareBudget(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, WithPolicies(PolicySet{
		ClassDefault: {Window: time.Minute, MaxRequests: 1, Message: "d", StatusCode: 429},
	}))
	ctx := context.Background()

	a := newRequest(nil)
	b := newRequest(nil)
	b.RemoteAddr = "198.51.100.99:4000"

	assert.True(t, l.Check(ctx, a, ClassDefault).Allowed)
	assert.False(t, l.Check(ctx, b, ClassDefault).Allowed)
}

func TestLimiter_Check_FallbackToRemoteAddr(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t,
		WithFallbackToRemoteAddr(true),
		WithPolicies(PolicySet{
			ClassDefault: {Window: time.Minute, MaxRequests: 1, Message: "d", StatusCode: 429},
		}),
	)
	ctx := context.Background()

	a := newRequest(nil)
	b := newRequest(nil)
	b.RemoteAddr = "198.51.100.99:4000"

	assert.True(t, l.Check(ctx, a, ClassDefault).Allowed)
	assert.True(t, l.Check(ctx, b, ClassDefault).Allowed)
	assert.False(t, l.Check(ctx, a, ClassDefault).Allowed)
}

func TestLimiter_Check_ExactCountUnderConcurrency(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, WithPolicies(PolicySet{
		ClassDefault: {Window: time.Hour, MaxRequests: 50, Message: "d", StatusCode: 429},
	}))
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := newRequest(map[string]string{"X-Forwarded-For": "1.2.3.4"})
			if l.Check(ctx, req, ClassDefault).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}

// ============================================================================
// Store Failure Tests
// ============================================================================

func TestLimiter_Check_StoreFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	l := New(&failingStore{err: boom})
	ctx := context.Background()

	t.Run("fail open", func(t *testing.T) {
		res := l.Check(ctx, newRequest(nil), ClassAPI)
		assert.True(t, res.Allowed)
		require.Error(t, res.Err)
		assert.ErrorIs(t, res.Err, store.ErrStore)
		assert.ErrorIs(t, res.Err, boom)
	})

	t.Run("fail closed", func(t *testing.T) {
		res := l.Check(ctx, newRequest(nil), ClassAuth)
		assert.False(t, res.Allowed)
		require.NotNil(t, res.Denied)
		assert.Equal(t, http.StatusServiceUnavailable, res.Denied.StatusCode)
		assert.Equal(t, UnavailableMessage, res.Denied.Message)
		assert.ErrorIs(t, res.Err, store.ErrStore)
	})
}

// ============================================================================
// Policy Management Tests
// ============================================================================

func TestLimiter_UpdatePolicies(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t)

	err := l.UpdatePolicies(PolicySet{ClassAuth: {Window: time.Minute, MaxRequests: 1, StatusCode: 429}})
	require.Error(t, err, "set without default is rejected")
	assert.Equal(t, DefaultPolicies(), l.Policies())

	next := PolicySet{
		ClassDefault: {Window: time.Minute, MaxRequests: 7, Message: "x", StatusCode: 429},
	}
	require.NoError(t, l.UpdatePolicies(next))
	assert.Equal(t, next, l.Policies())

	// The returned set is a copy.
	got := l.Policies()
	got[ClassDefault] = Policy{}
	assert.Equal(t, uint64(7), l.Policies()[ClassDefault].MaxRequests)
}

func TestLimiter_Stats(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t)
	ctx := context.Background()

	l.Check(ctx, newRequest(map[string]string{"X-Forwarded-For": "1.1.1.1"}), ClassAPI)
	l.Check(ctx, newRequest(map[string]string{"X-Forwarded-For": "2.2.2.2"}), ClassAPI)
	l.Check(ctx, newRequest(map[string]string{"X-Forwarded-For": "2.2.2.2"}), ClassAPI)
	l.Check(ctx, newRequest(map[string]string{"X-Forwarded-For": "1.1.1.1"}), ClassSearch)

	stats := l.Stats()
	require.Len(t, stats, 4)
	assert.Equal(t, 2, stats[ClassAPI].ActiveKeys)
	assert.Equal(t, 1, stats[ClassSearch].ActiveKeys)
	assert.Equal(t, 0, stats[ClassAuth].ActiveKeys)
	assert.Equal(t, time.Minute, stats[ClassAPI].Window)
	assert.Equal(t, uint64(60), stats[ClassAPI].MaxRequests)
}
