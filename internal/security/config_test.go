package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, (*Config)(nil).Validate())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad frame options",
			mutate:  func(c *Config) { c.Headers.XFrameOptions = "ALLOWALL" },
			wantErr: "invalid X-Frame-Options",
		},
		{
			name:    "bad content type options",
			mutate:  func(c *Config) { c.Headers.XContentTypeOptions = "sniff" },
			wantErr: "must be 'nosniff'",
		},
		{
			name:    "negative hsts max age",
			mutate:  func(c *Config) { c.HSTS.MaxAge = -1 },
			wantErr: "maxAge must be non-negative",
		},
		{
			name: "preload without subdomains",
			mutate: func(c *Config) {
				c.HSTS.Preload = true
				c.HSTS.IncludeSubDomains = false
			},
			wantErr: "preload requires includeSubDomains",
		},
		{
			name: "preload with short max age",
			mutate: func(c *Config) {
				c.HSTS.Preload = true
				c.HSTS.MaxAge = 3600
			},
			wantErr: "preload requires maxAge",
		},
		{
			name:    "bad referrer policy",
			mutate:  func(c *Config) { c.ReferrerPolicy = "everything" },
			wantErr: "invalid referrer policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHSTSConfig_Validate_Disabled(t *testing.T) {
	t.Parallel()

	assert.NoError(t, (&HSTSConfig{Enabled: false, MaxAge: -1}).Validate())
}
