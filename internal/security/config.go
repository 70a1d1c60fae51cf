package security

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Config describes the fixed response headers.
type Config struct {
	// Headers configures the classic browser hardening headers.
	Headers *HeadersConfig `yaml:"headers,omitempty" json:"headers,omitempty"`

	// HSTS configures HTTP Strict Transport Security.
	HSTS *HSTSConfig `yaml:"hsts,omitempty" json:"hsts,omitempty"`

	// PermissionsPolicy configures the Permissions-Policy header.
	PermissionsPolicy *PermissionsPolicyConfig `yaml:"permissionsPolicy,omitempty" json:"permissionsPolicy,omitempty"`

	// ReferrerPolicy configures the Referrer-Policy header.
	ReferrerPolicy string `yaml:"referrerPolicy,omitempty" json:"referrerPolicy,omitempty"`

	// ContentSecurityPolicy sets the Content-Security-Policy header verbatim.
	ContentSecurityPolicy string `yaml:"contentSecurityPolicy,omitempty" json:"contentSecurityPolicy,omitempty"`
}

// HeadersConfig configures security headers.
type HeadersConfig struct {
	// XFrameOptions sets the X-Frame-Options header.
	// Valid values: DENY, SAMEORIGIN
	XFrameOptions string `yaml:"xFrameOptions,omitempty" json:"xFrameOptions,omitempty"`

	// XContentTypeOptions sets the X-Content-Type-Options header.
	// Valid value: nosniff
	XContentTypeOptions string `yaml:"xContentTypeOptions,omitempty" json:"xContentTypeOptions,omitempty"`

	// XXSSProtection sets the X-XSS-Protection header.
	XXSSProtection string `yaml:"xXSSProtection,omitempty" json:"xXSSProtection,omitempty"`

	// CustomHeaders allows setting custom headers.
	CustomHeaders map[string]string `yaml:"customHeaders,omitempty" json:"customHeaders,omitempty"`
}

// HSTSConfig configures HTTP Strict Transport Security.
type HSTSConfig struct {
	// Enabled enables HSTS.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxAge is the max-age directive value in seconds.
	MaxAge int `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`

	// IncludeSubDomains includes the includeSubDomains directive.
	IncludeSubDomains bool `yaml:"includeSubDomains,omitempty" json:"includeSubDomains,omitempty"`

	// Preload includes the preload directive.
	Preload bool `yaml:"preload,omitempty" json:"preload,omitempty"`
}

// PermissionsPolicyConfig configures Permissions Policy.
type PermissionsPolicyConfig struct {
	// Policy is the full Permissions Policy string. It wins over Features.
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"`

	// Features maps a feature to its allow-list; an empty list denies it.
	Features map[string][]string `yaml:"features,omitempty" json:"features,omitempty"`
}

// DefaultConfig returns the marketplace's security header configuration.
func DefaultConfig() *Config {
	return &Config{
		Headers: &HeadersConfig{
			XFrameOptions:       "DENY",
			XContentTypeOptions: "nosniff",
			XXSSProtection:      "1; mode=block",
		},
		HSTS: &HSTSConfig{
			Enabled:           true,
			MaxAge:            31536000,
			IncludeSubDomains: true,
		},
		PermissionsPolicy: &PermissionsPolicyConfig{
			Policy: "camera=(), microphone=(), geolocation=()",
		},
		ReferrerPolicy: "strict-origin-when-cross-origin",
	}
}

// Validate validates the security configuration.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}

	if err := c.Headers.Validate(); err != nil {
		return fmt.Errorf("headers config: %w", err)
	}

	if err := c.HSTS.Validate(); err != nil {
		return fmt.Errorf("hsts config: %w", err)
	}

	return c.validateReferrerPolicy()
}

// validateReferrerPolicy validates the Referrer-Policy value.
func (c *Config) validateReferrerPolicy() error {
	if c.ReferrerPolicy == "" {
		return nil
	}

	validPolicies := map[string]bool{
		"no-referrer":                     true,
		"no-referrer-when-downgrade":      true,
		"origin":                          true,
		"origin-when-cross-origin":        true,
		"same-origin":                     true,
		"strict-origin":                   true,
		"strict-origin-when-cross-origin": true,
		"unsafe-url":                      true,
	}

	if !validPolicies[c.ReferrerPolicy] {
		return fmt.Errorf("invalid referrer policy: %s", c.ReferrerPolicy)
	}

	return nil
}

// Validate validates the headers configuration.
func (c *HeadersConfig) Validate() error {
	if c == nil {
		return nil
	}

	if c.XFrameOptions != "" {
		upper := strings.ToUpper(c.XFrameOptions)
		if upper != "DENY" && upper != "SAMEORIGIN" {
			return fmt.Errorf("invalid X-Frame-Options: %s", c.XFrameOptions)
		}
	}

	if c.XContentTypeOptions != "" && c.XContentTypeOptions != "nosniff" {
		return fmt.Errorf("invalid X-Content-Type-Options: %s (must be 'nosniff')", c.XContentTypeOptions)
	}

	return nil
}

// Validate validates the HSTS configuration.
func (c *HSTSConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	if c.MaxAge < 0 {
		return errors.New("maxAge must be non-negative")
	}

	// Preload requires includeSubDomains and maxAge >= 1 year
	if c.Preload {
		if !c.IncludeSubDomains {
			return errors.New("preload requires includeSubDomains")
		}
		if c.MaxAge < 31536000 {
			return errors.New("preload requires maxAge >= 31536000 (1 year)")
		}
	}

	return nil
}

// value renders the Strict-Transport-Security header.
func (c *HSTSConfig) value() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "max-age=%d", c.MaxAge)

	if c.IncludeSubDomains {
		builder.WriteString("; includeSubDomains")
	}
	if c.Preload {
		builder.WriteString("; preload")
	}

	return builder.String()
}

// value renders the Permissions-Policy header with features in sorted order.
func (c *PermissionsPolicyConfig) value() string {
	if c.Policy != "" {
		return c.Policy
	}

	features := make([]string, 0, len(c.Features))
	for feature := range c.Features {
		features = append(features, feature)
	}
	sort.Strings(features)

	parts := make([]string, 0, len(features))
	for _, feature := range features {
		parts = append(parts, fmt.Sprintf("%s=(%s)", feature, strings.Join(c.Features[feature], " ")))
	}

	return strings.Join(parts, ", ")
}
