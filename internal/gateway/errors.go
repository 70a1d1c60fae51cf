package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies why a request was denied.
type Kind int

const (
	// KindNone means the request was not denied.
	KindNone Kind = iota
	// KindRateLimitExceeded is recoverable after the window resets.
	KindRateLimitExceeded
	// KindCORSViolation is a client misconfiguration.
	KindCORSViolation
	// KindMalformedBody is a client error.
	KindMalformedBody
	// KindInternalStore is a rate limit store failure on a fail-closed policy.
	KindInternalStore
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindCORSViolation:
		return "cors_violation"
	case KindMalformedBody:
		return "malformed_body"
	case KindInternalStore:
		return "internal_store_error"
	default:
		return "unknown"
	}
}

// Sentinel errors for each denial kind.
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrCORSViolation     = errors.New("CORS policy violation")
	ErrMalformedBody     = errors.New("malformed request body")
	ErrInternalStore     = errors.New("internal store error")
)

// Configuration errors.
var (
	// ErrNilLimiter indicates that New was called without a limiter.
	ErrNilLimiter = errors.New("rate limiter is required")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
)

func (k Kind) sentinel() error {
	switch k {
	case KindRateLimitExceeded:
		return ErrRateLimitExceeded
	case KindCORSViolation:
		return ErrCORSViolation
	case KindMalformedBody:
		return ErrMalformedBody
	case KindInternalStore:
		return ErrInternalStore
	default:
		return nil
	}
}

// DenialError describes a denied request. Cause is internal and never
// reaches the client.
type DenialError struct {
	Kind       Kind
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *DenialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("request denied (%s, %d): %v", e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("request denied (%s, %d)", e.Kind, e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *DenialError) Unwrap() error {
	return e.Cause
}

// Is matches any *DenialError and the sentinel of the error's kind.
func (e *DenialError) Is(target error) bool {
	if _, ok := target.(*DenialError); ok {
		return true
	}
	if s := e.Kind.sentinel(); s != nil && target == s { //nolint:errorlint // sentinel identity
		return true
	}
	return false
}

func newDenial(kind Kind, status int, cause error) *DenialError {
	return &DenialError{Kind: kind, StatusCode: status, Cause: cause}
}

// KindOf returns the denial kind carried by err, or KindNone.
func KindOf(err error) Kind {
	var de *DenialError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindNone
}
