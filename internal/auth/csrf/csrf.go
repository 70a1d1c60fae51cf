// Package csrf issues and checks anti-forgery tokens bound to a session.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alo17/secgateway/internal/observability"
)

const (
	// TokenBytes is the amount of entropy in a token.
	TokenBytes = 32

	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = time.Hour

	// DefaultSweepInterval is how often expired tokens are removed.
	DefaultSweepInterval = 5 * time.Minute

	// HeaderName carries the token on state-changing requests.
	HeaderName = "X-CSRF-Token"

	// SessionCookieName carries the session the token is bound to.
	SessionCookieName = "alo17_session"
)

// Validation results reported to metrics.
const (
	resultValid   = "valid"
	resultInvalid = "invalid"
	resultExpired = "expired"
	resultMissing = "missing"
)

// ErrStoreClosed is returned by Issue after Close.
var ErrStoreClosed = errors.New("csrf store is closed")

// Generate returns a new hex-encoded token read from crypto/rand.
func Generate() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Validate compares candidate with expected in constant time. Empty values
// never validate.
func Validate(candidate, expected string) bool {
	if candidate == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// FromRequest extracts the session ID cookie and the token header.
func FromRequest(r *http.Request) (sessionID, token string) {
	if c, err := r.Cookie(SessionCookieName); err == nil {
		sessionID = c.Value
	}
	return sessionID, r.Header.Get(HeaderName)
}

type entry struct {
	token     string
	expiresAt time.Time
}

// Store keeps one outstanding token per session. Tokens are single use.
type Store struct {
	mu     sync.Mutex
	tokens map[string]entry

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        observability.Logger
	metrics       *observability.Metrics

	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSweepInterval sets the background sweep interval. Zero disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		s.sweepInterval = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a token store and starts its sweep loop.
func NewStore(opts ...Option) *Store {
	s := &Store{
		tokens:        make(map[string]entry),
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        observability.NopLogger(),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}

	return s
}

// TTL returns the token lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Issue mints a token for sessionID, replacing any outstanding one.
func (s *Store) Issue(sessionID string) (string, error) {
	if s.closed.Load() {
		return "", ErrStoreClosed
	}
	if sessionID == "" {
		return "", errors.New("session id is required")
	}

	token, err := Generate()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.tokens[sessionID] = entry{token: token, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return token, nil
}

// Consume reports whether candidate is the live token for sessionID. A
// matching token is removed so it cannot be replayed. The result does not
// reveal why a token was rejected.
func (s *Store) Consume(sessionID, candidate string) bool {
	result := s.consume(sessionID, candidate)
	s.metrics.RecordCSRFValidation(result)
	if result != resultValid {
		s.logger.Debug("csrf token rejected", observability.String("reason", result))
	}
	return result == resultValid
}

func (s *Store) consume(sessionID, candidate string) string {
	if sessionID == "" || candidate == "" {
		return resultMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tokens[sessionID]
	if !ok {
		return resultMissing
	}

	if !s.now().Before(e.expiresAt) {
		delete(s.tokens, sessionID)
		return resultExpired
	}

	if !Validate(candidate, e.token) {
		return resultInvalid
	}

	delete(s.tokens, sessionID)
	return resultValid
}

// Revoke drops any outstanding token for sessionID.
func (s *Store) Revoke(sessionID string) {
	s.mu.Lock()
	delete(s.tokens, sessionID)
	s.mu.Unlock()
}

// Sweep removes expired tokens and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.tokens {
		if !now.Before(e.expiresAt) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of outstanding tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("swept expired csrf tokens", observability.Int("removed", n))
			}
		}
	}
}

// Close stops the sweep loop. It is safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return nil
}
