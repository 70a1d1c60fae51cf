// Package password provides salted password hashing and strength checks.
package password

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/pbkdf2"

	"github.com/alo17/secgateway/internal/observability"
)

const (
	// DefaultIterations matches hashes already stored by the marketplace.
	DefaultIterations = 1000

	// MinIterations is the lowest accepted iteration count.
	MinIterations = 1000

	// MaxIterations bounds the count a stored hash may ask for.
	MaxIterations = 10_000_000

	// SaltBytes is the random salt size before hex encoding.
	SaltBytes = 16

	// KeyLength is the derived key size in bytes.
	KeyLength = 64

	separator     = ":"
	iterSeparator = "$"
)

// Strength policy violations. The messages are shown to end users.
var (
	ErrTooShort  = errors.New("Şifre en az 8 karakter olmalıdır")
	ErrNoUpper   = errors.New("Şifre en az bir büyük harf içermelidir")
	ErrNoLower   = errors.New("Şifre en az bir küçük harf içermelidir")
	ErrNoNumber  = errors.New("Şifre en az bir rakam içermelidir")
	ErrNoSpecial = errors.New("Şifre en az bir özel karakter içermelidir")
)

// specialChars is the accepted set of special characters.
const specialChars = `!@#$%^&*(),.?":{}|<>`

// Policy defines password requirements.
type Policy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireNumber  bool
	RequireSpecial bool
}

// DefaultPolicy requires eight characters with upper, lower, digit and special.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireNumber:  true,
		RequireSpecial: true,
	}
}

// Hasher provides password hashing and verification operations.
type Hasher struct {
	iterations int
	policy     Policy
	metrics    *observability.Metrics
}

// Option configures the Hasher.
type Option func(*Hasher)

// WithIterations sets the PBKDF2 iteration count for new hashes. Values
// outside [MinIterations, MaxIterations] are ignored.
func WithIterations(n int) Option {
	return func(h *Hasher) {
		if n >= MinIterations && n <= MaxIterations {
			h.iterations = n
		}
	}
}

// WithPolicy sets the password policy.
func WithPolicy(policy Policy) Option {
	return func(h *Hasher) {
		h.policy = policy
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Hasher) {
		h.metrics = m
	}
}

// New creates a new password hasher with the given options.
func New(opts ...Option) *Hasher {
	h := &Hasher{
		iterations: DefaultIterations,
		policy:     DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Iterations returns the configured iteration count.
func (h *Hasher) Iterations() int {
	return h.iterations
}

// Hash returns "salt:hash" where salt is 16 random bytes in hex and hash is
// PBKDF2-HMAC-SHA512 over the hex salt string, 64 bytes, in hex. When the
// hasher does not use DefaultIterations the count is prefixed as
// "iterations$salt:hash", so hashes stay verifiable after the setting
// changes.
func (h *Hasher) Hash(password string) (string, error) {
	raw := make([]byte, SaltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	salt := hex.EncodeToString(raw)

	encoded := salt + separator + derive(password, salt, h.iterations)
	if h.iterations != DefaultIterations {
		encoded = strconv.Itoa(h.iterations) + iterSeparator + encoded
	}
	return encoded, nil
}

// Verify reports whether password matches stored. Malformed stored values
// verify as false.
func (h *Hasher) Verify(password, stored string) bool {
	ok := h.verify(password, stored)
	if ok {
		h.metrics.RecordPasswordVerification("match")
	} else {
		h.metrics.RecordPasswordVerification("mismatch")
	}
	return ok
}

func (h *Hasher) verify(password, stored string) bool {
	iterations, salt, want, ok := parse(stored)
	if !ok {
		return false
	}

	got := derive(password, salt, iterations)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(want))) == 1
}

// parse splits a stored hash. Values without an iteration prefix use
// DefaultIterations.
func parse(stored string) (iterations int, salt, hash string, ok bool) {
	iterations = DefaultIterations
	if prefix, rest, found := strings.Cut(stored, iterSeparator); found {
		n, err := strconv.Atoi(prefix)
		if err != nil || n < MinIterations || n > MaxIterations {
			return 0, "", "", false
		}
		iterations, stored = n, rest
	}

	salt, hash, found := strings.Cut(stored, separator)
	if !found || salt == "" || len(hash) != hex.EncodedLen(KeyLength) {
		return 0, "", "", false
	}
	return iterations, salt, hash, true
}

func derive(password, salt string, iterations int) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), iterations, KeyLength, sha512.New)
	return hex.EncodeToString(key)
}

// CheckStrength returns every policy violation, or nil when password
// satisfies the hasher's policy.
func (h *Hasher) CheckStrength(password string) []error {
	return CheckWithPolicy(password, h.policy)
}

// CheckWithPolicy returns every violation of policy.
func CheckWithPolicy(password string, policy Policy) []error {
	var hasUpper, hasLower, hasNumber, hasSpecial bool

	for _, char := range password {
		switch {
		case strings.ContainsRune(specialChars, char):
			hasSpecial = true
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		}
	}

	var errs []error
	if len([]rune(password)) < policy.MinLength {
		errs = append(errs, ErrTooShort)
	}
	if policy.RequireUpper && !hasUpper {
		errs = append(errs, ErrNoUpper)
	}
	if policy.RequireLower && !hasLower {
		errs = append(errs, ErrNoLower)
	}
	if policy.RequireNumber && !hasNumber {
		errs = append(errs, ErrNoNumber)
	}
	if policy.RequireSpecial && !hasSpecial {
		errs = append(errs, ErrNoSpecial)
	}
	return errs
}

// Messages flattens violations into user-facing strings.
func Messages(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}
