package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Built-in policy classes.
const (
	ClassDefault = "default"
	ClassAuth    = "auth"
	ClassAPI     = "api"
	ClassSearch  = "search"
)

// Policy is the fixed-window budget for one request class.
type Policy struct {
	// Window is the length of one counting window.
	Window time.Duration

	// MaxRequests is the number of requests allowed per window.
	MaxRequests uint64

	// Message is returned to the client when the budget is exhausted.
	Message string

	// StatusCode is returned to the client when the budget is exhausted.
	StatusCode int

	// FailOpen allows requests through when the store fails.
	FailOpen bool
}

// PolicySet maps a class name to its policy.
type PolicySet map[string]Policy

// DefaultPolicies returns the built-in policy set.
func DefaultPolicies() PolicySet {
	return PolicySet{
		ClassDefault: {
			Window:      15 * time.Minute,
			MaxRequests: 100,
			Message:     "Çok fazla istek gönderildi. Lütfen daha sonra tekrar deneyin.",
			StatusCode:  http.StatusTooManyRequests,
			FailOpen:    true,
		},
		ClassAuth: {
			Window:      15 * time.Minute,
			MaxRequests: 5,
			Message:     "Çok fazla giriş denemesi. Lütfen daha sonra tekrar deneyin.",
			StatusCode:  http.StatusTooManyRequests,
			FailOpen:    false,
		},
		ClassAPI: {
			Window:      time.Minute,
			MaxRequests: 60,
			Message:     "API rate limit aşıldı. Lütfen daha sonra tekrar deneyin.",
			StatusCode:  http.StatusTooManyRequests,
			FailOpen:    true,
		},
		ClassSearch: {
			Window:      time.Minute,
			MaxRequests: 30,
			Message:     "Arama rate limit aşıldı. Lütfen daha sonra tekrar deneyin.",
			StatusCode:  http.StatusTooManyRequests,
			FailOpen:    true,
		},
	}
}

// Lookup returns the policy for class, falling back to the default class.
// The returned name is the class whose policy was used.
func (ps PolicySet) Lookup(class string) (string, Policy) {
	if p, ok := ps[class]; ok {
		return class, p
	}
	if p, ok := ps[ClassDefault]; ok {
		return ClassDefault, p
	}
	return ClassDefault, DefaultPolicies()[ClassDefault]
}

// Classes returns the class names in sorted order.
func (ps PolicySet) Classes() []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy of the set.
func (ps PolicySet) Clone() PolicySet {
	out := make(PolicySet, len(ps))
	for k, v := range ps {
		out[k] = v
	}
	return out
}

// Validate checks that the set is usable.
func (ps PolicySet) Validate() error {
	if _, ok := ps[ClassDefault]; !ok {
		return errors.New("policy set must define the default class")
	}

	var errs []error
	for _, name := range ps.Classes() {
		p := ps[name]
		if p.Window <= 0 {
			errs = append(errs, fmt.Errorf("policy %q: window must be positive", name))
		}
		if p.MaxRequests == 0 {
			errs = append(errs, fmt.Errorf("policy %q: maxRequests must be positive", name))
		}
		if p.StatusCode < 400 || p.StatusCode > 599 {
			errs = append(errs, fmt.Errorf("policy %q: statusCode %d is not an error status", name, p.StatusCode))
		}
	}
	return errors.Join(errs...)
}
