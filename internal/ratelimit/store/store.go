// Package store provides the shared counter storage used by the rate limiter.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrStore is the root of all internal store failures. Callers map it to
// the gateway's InternalStoreError and never surface it to clients.
var ErrStore = errors.New("rate limit store error")

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("rate limit store closed")

// Key identifies one rate limit bucket. It is a comparable struct so that
// distinct component tuples can never collide the way joined strings can.
type Key struct {
	Class         string
	ClientIP      string
	AuthState     string
	UserAgentHash [sha256.Size]byte
}

// NewKey builds a Key, hashing the raw user agent.
func NewKey(class, clientIP, authState, userAgent string) Key {
	return Key{
		Class:         class,
		ClientIP:      clientIP,
		AuthState:     authState,
		UserAgentHash: sha256.Sum256([]byte(userAgent)),
	}
}

// String renders the key for logs. The user agent hash is shortened.
func (k Key) String() string {
	return k.Class + "|" + k.ClientIP + "|" + k.AuthState + "|" + hex.EncodeToString(k.UserAgentHash[:6])
}

// Record is a snapshot of one bucket.
type Record struct {
	// Count is the number of hits recorded in the current window.
	Count uint64

	// ResetTime is the instant the window ends.
	ResetTime time.Time
}

// Expired reports whether the window is over at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ResetTime)
}

// Store defines the interface for rate limit storage.
type Store interface {
	// Increment atomically bumps the record for key. An absent or expired
	// record is replaced with {1, now+window}.
	Increment(ctx context.Context, key Key, window time.Duration) (Record, error)

	// Get returns the live record for key.
	Get(ctx context.Context, key Key) (Record, error)

	// Delete removes the record for key.
	Delete(ctx context.Context, key Key) error

	// DeleteClass removes every record of class and returns how many were
	// removed.
	DeleteClass(ctx context.Context, class string) (int, error)

	// Cleanup removes every expired record and returns how many were removed.
	Cleanup() int

	// CountByClass returns the number of live records per policy class.
	CountByClass() map[string]int

	// Close stops background work and releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is not found in the store.
type ErrKeyNotFound struct {
	Key Key
}

func (e *ErrKeyNotFound) Error() string {
	return "key not found: " + e.Key.String()
}

// IsKeyNotFound returns true if the error is a key not found error.
func IsKeyNotFound(err error) bool {
	var target *ErrKeyNotFound
	return errors.As(err, &target)
}
