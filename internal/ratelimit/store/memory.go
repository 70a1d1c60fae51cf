package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alo17/secgateway/internal/observability"
)

// DefaultCleanupInterval is how often expired records are swept.
const DefaultCleanupInterval = time.Minute

// entry is an immutable bucket value. Updates swap in a new pointer so
// CompareAndSwap and CompareAndDelete can detect concurrent writers.
type entry struct {
	count     uint64
	resetTime time.Time
}

func (e *entry) record() Record {
	return Record{Count: e.count, ResetTime: e.resetTime}
}

// MemoryStore implements Store using a lock-free sync.Map.
type MemoryStore struct {
	data     sync.Map
	now      func() time.Time
	interval time.Duration
	logger   observability.Logger
	cleanup  *time.Ticker
	done     chan struct{}
	mu       sync.Mutex
	closed   atomic.Bool
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithCleanupInterval sets the sweep interval. A non-positive interval
// disables the background sweep; Cleanup can still be called directly.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *MemoryStore) {
		s.interval = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *MemoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMemoryStore creates a new in-memory store and starts its sweep loop.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		now:      time.Now,
		interval: DefaultCleanupInterval,
		logger:   observability.NopLogger(),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.interval > 0 {
		s.cleanup = time.NewTicker(s.interval)
		go s.startCleanup()
	}

	return s
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, key Key, window time.Duration) (Record, error) {
	if err := s.checkUsable(ctx); err != nil {
		return Record{}, err
	}

	now := s.now()
	fresh := &entry{count: 1, resetTime: now.Add(window)}

	// A failed CAS means another increment of the key won, so the loop
	// always makes progress. It only stops early when ctx is done.
	for {
		value, ok := s.data.Load(key)
		if !ok {
			actual, loaded := s.data.LoadOrStore(key, fresh)
			if !loaded {
				return fresh.record(), nil
			}
			value = actual
		}

		e := value.(*entry)

		if !now.Before(e.resetTime) {
			// Window is over: start a new one, unless someone beat us to it.
			if s.data.CompareAndSwap(key, e, fresh) {
				return fresh.record(), nil
			}
		} else {
			next := &entry{count: e.count + 1, resetTime: e.resetTime}
			if s.data.CompareAndSwap(key, e, next) {
				return next.record(), nil
			}
		}

		if err := ctx.Err(); err != nil {
			return Record{}, fmt.Errorf("%w: increment: %w", ErrStore, err)
		}
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key Key) (Record, error) {
	if err := s.checkUsable(ctx); err != nil {
		return Record{}, err
	}

	value, ok := s.data.Load(key)
	if !ok {
		return Record{}, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)
	if !s.now().Before(e.resetTime) {
		s.data.CompareAndDelete(key, e)
		return Record{}, &ErrKeyNotFound{Key: key}
	}

	return e.record(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	if err := s.checkUsable(ctx); err != nil {
		return err
	}

	s.data.Delete(key)
	return nil
}

// Cleanup implements Store. It only deletes the exact entry it saw expire,
// so a record that was concurrently renewed survives.
func (s *MemoryStore) Cleanup() int {
	now := s.now()
	removed := 0

	s.data.Range(func(key, value any) bool {
		e := value.(*entry)
		if e.resetTime.Before(now) && s.data.CompareAndDelete(key, e) {
			removed++
		}
		return true
	})

	return removed
}

// DeleteClass implements Store.
func (s *MemoryStore) DeleteClass(ctx context.Context, class string) (int, error) {
	if err := s.checkUsable(ctx); err != nil {
		return 0, err
	}

	removed := 0
	s.data.Range(func(key, value any) bool {
		if key.(Key).Class == class && s.data.CompareAndDelete(key, value) {
			removed++
		}
		return true
	})
	return removed, nil
}

// CountByClass implements Store.
func (s *MemoryStore) CountByClass() map[string]int {
	now := s.now()
	counts := make(map[string]int)

	s.data.Range(func(key, value any) bool {
		if now.Before(value.(*entry).resetTime) {
			counts[key.(Key).Class]++
		}
		return true
	})

	return counts
}

// Size returns the number of entries in the store, expired or not.
func (s *MemoryStore) Size() int {
	count := 0
	s.data.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil
	}

	s.closed.Store(true)
	if s.cleanup != nil {
		s.cleanup.Stop()
	}
	close(s.done)

	return nil
}

// checkUsable fails fast on a closed store or a finished context.
func (s *MemoryStore) checkUsable(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", ErrStore, ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// startCleanup periodically removes expired entries.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.cleanup.C:
			if removed := s.Cleanup(); removed > 0 {
				s.logger.Debug("swept expired rate limit records",
					observability.Int("removed", removed),
				)
			}
		case <-s.done:
			return
		}
	}
}
