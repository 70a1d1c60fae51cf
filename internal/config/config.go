package config

import (
	"slices"
	"strings"
	"time"

	"github.com/alo17/secgateway/internal/audit"
	"github.com/alo17/secgateway/internal/auth/admin"
	"github.com/alo17/secgateway/internal/auth/csrf"
	"github.com/alo17/secgateway/internal/auth/lockout"
	"github.com/alo17/secgateway/internal/auth/password"
	"github.com/alo17/secgateway/internal/gateway"
	"github.com/alo17/secgateway/internal/middleware"
	"github.com/alo17/secgateway/internal/observability"
	"github.com/alo17/secgateway/internal/ratelimit"
	"github.com/alo17/secgateway/internal/sanitize"
	"github.com/alo17/secgateway/internal/security"
)

// Default server settings.
const (
	DefaultListenAddr      = ":8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMetricsPath     = "/metrics"
	DefaultMetricsNS       = "secgw"
	DefaultServiceName     = "secgateway"
	DefaultCleanupInterval = time.Minute
)

// Config is the root of the gateway configuration file.
type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Tracing   TracingConfig    `yaml:"tracing" json:"tracing"`
	Metrics   MetricsConfig    `yaml:"metrics" json:"metrics"`
	RateLimit RateLimitConfig  `yaml:"rateLimit" json:"rateLimit"`
	CORS      CORSConfig       `yaml:"cors" json:"cors"`
	Security  *security.Config `yaml:"security,omitempty" json:"security,omitempty"`
	Sanitizer SanitizerConfig  `yaml:"sanitizer" json:"sanitizer"`
	CSRF      CSRFConfig       `yaml:"csrf" json:"csrf"`
	Password  PasswordConfig   `yaml:"password" json:"password"`
	Lockout   LockoutConfig    `yaml:"lockout" json:"lockout"`
	Admin     AdminConfig      `yaml:"admin" json:"admin"`
	Upload    UploadConfig     `yaml:"upload" json:"upload"`
	Audit     *audit.Config    `yaml:"audit,omitempty" json:"audit,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listenAddr" json:"listenAddr"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`

	// MaxBodyBytes bounds JSON bodies parsed by the gateway.
	MaxBodyBytes int64 `yaml:"maxBodyBytes" json:"maxBodyBytes"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"`
	Output    string `yaml:"output" json:"output"`
	AccessLog bool   `yaml:"accessLog" json:"accessLog"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// RateLimitConfig configures the limiter and its store.
type RateLimitConfig struct {
	// CleanupInterval is how often expired records are swept.
	CleanupInterval Duration `yaml:"cleanupInterval" json:"cleanupInterval"`

	// FallbackToRemoteAddr keys clients without forwarding headers by
	// socket address instead of one shared "unknown" bucket.
	FallbackToRemoteAddr bool `yaml:"fallbackToRemoteAddr" json:"fallbackToRemoteAddr"`

	// Policies overrides or adds policy classes. Unset fields inherit the
	// built-in policy of the same class, or of the default class.
	Policies map[string]PolicyConfig `yaml:"policies" json:"policies"`
}

// PolicyConfig is one rate limit class.
type PolicyConfig struct {
	Window      Duration `yaml:"window" json:"window"`
	MaxRequests uint64   `yaml:"maxRequests" json:"maxRequests"`
	Message     string   `yaml:"message" json:"message"`
	StatusCode  int      `yaml:"statusCode" json:"statusCode"`
	FailOpen    *bool    `yaml:"failOpen,omitempty" json:"failOpen,omitempty"`
}

// CORSConfig is the CORS allow-list.
type CORSConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins" json:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods" json:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders" json:"allowHeaders"`
	ExposeHeaders    []string `yaml:"exposeHeaders,omitempty" json:"exposeHeaders,omitempty"`
	AllowCredentials bool     `yaml:"allowCredentials" json:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`
}

// SanitizerConfig configures the input sanitizer.
type SanitizerConfig struct {
	// Mode is "sql" or "html".
	Mode     string `yaml:"mode" json:"mode"`
	MaxDepth int    `yaml:"maxDepth" json:"maxDepth"`
	MaxNodes int    `yaml:"maxNodes" json:"maxNodes"`

	// RawKeys are top-level body members handed to handlers unfiltered,
	// for secrets that are only hashed or compared.
	RawKeys []string `yaml:"rawKeys" json:"rawKeys"`
}

// CSRFConfig configures the CSRF token store.
type CSRFConfig struct {
	TTL           Duration `yaml:"ttl" json:"ttl"`
	SweepInterval Duration `yaml:"sweepInterval" json:"sweepInterval"`
}

// PasswordConfig configures hashing and the strength policy.
type PasswordConfig struct {
	Iterations     int  `yaml:"iterations" json:"iterations"`
	MinLength      int  `yaml:"minLength" json:"minLength"`
	RequireUpper   bool `yaml:"requireUpper" json:"requireUpper"`
	RequireLower   bool `yaml:"requireLower" json:"requireLower"`
	RequireNumber  bool `yaml:"requireNumber" json:"requireNumber"`
	RequireSpecial bool `yaml:"requireSpecial" json:"requireSpecial"`
}

// LockoutConfig configures the login lockout guard.
type LockoutConfig struct {
	MaxAttempts uint64   `yaml:"maxAttempts" json:"maxAttempts"`
	Duration    Duration `yaml:"duration" json:"duration"`
}

// AdminConfig restricts the /internal endpoints.
type AdminConfig struct {
	// AllowIPs holds addresses or CIDR prefixes.
	AllowIPs []string `yaml:"allowIPs" json:"allowIPs"`

	// TrustForwarded checks X-Forwarded-For instead of the socket peer.
	TrustForwarded bool `yaml:"trustForwarded" json:"trustForwarded"`
}

// UploadConfig limits files announced to the upload check.
type UploadConfig struct {
	MaxBytes          int64    `yaml:"maxBytes" json:"maxBytes"`
	AllowedExtensions []string `yaml:"allowedExtensions" json:"allowedExtensions"`
}

// DefaultConfig returns the configuration used when no file is given.
// Loaded files are decoded on top of it.
func DefaultConfig() *Config {
	cors := middleware.DefaultCORSConfig()
	pw := password.DefaultPolicy()
	upload := sanitize.DefaultUploadPolicy()

	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			IdleTimeout:     Duration(DefaultIdleTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
			MaxBodyBytes:    gateway.DefaultMaxBodyBytes,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Output:    "stdout",
			AccessLog: true,
		},
		Tracing: TracingConfig{
			ServiceName:  DefaultServiceName,
			SamplingRate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      DefaultMetricsPath,
			Namespace: DefaultMetricsNS,
		},
		RateLimit: RateLimitConfig{
			CleanupInterval: Duration(DefaultCleanupInterval),
			Policies:        map[string]PolicyConfig{},
		},
		CORS: CORSConfig{
			AllowOrigins:     cors.AllowOrigins,
			AllowMethods:     cors.AllowMethods,
			AllowHeaders:     cors.AllowHeaders,
			ExposeHeaders:    cors.ExposeHeaders,
			AllowCredentials: cors.AllowCredentials,
			MaxAge:           cors.MaxAge,
		},
		Security: security.DefaultConfig(),
		Sanitizer: SanitizerConfig{
			Mode:     sanitize.ModeSQL.String(),
			MaxDepth: sanitize.DefaultMaxDepth,
			MaxNodes: sanitize.DefaultMaxNodes,
			RawKeys:  []string{"password"},
		},
		CSRF: CSRFConfig{
			TTL:           Duration(csrf.DefaultTTL),
			SweepInterval: Duration(csrf.DefaultSweepInterval),
		},
		Password: PasswordConfig{
			Iterations:     password.DefaultIterations,
			MinLength:      pw.MinLength,
			RequireUpper:   pw.RequireUpper,
			RequireLower:   pw.RequireLower,
			RequireNumber:  pw.RequireNumber,
			RequireSpecial: pw.RequireSpecial,
		},
		Lockout: LockoutConfig{
			MaxAttempts: lockout.DefaultMaxAttempts,
			Duration:    Duration(lockout.DefaultLockoutDuration),
		},
		Admin: AdminConfig{
			AllowIPs: admin.DefaultAllowIPs(),
		},
		Upload: UploadConfig{
			MaxBytes:          upload.MaxBytes,
			AllowedExtensions: upload.AllowedExtensions,
		},
		Audit: audit.DefaultConfig(),
	}
}

// PolicySet merges configured classes over the built-in policies.
func (c *Config) PolicySet() ratelimit.PolicySet {
	ps := ratelimit.DefaultPolicies()

	for name, pc := range c.RateLimit.Policies {
		_, base := ps.Lookup(name)

		if pc.Window > 0 {
			base.Window = pc.Window.Duration()
		}
		if pc.MaxRequests > 0 {
			base.MaxRequests = pc.MaxRequests
		}
		if pc.Message != "" {
			base.Message = pc.Message
		}
		if pc.StatusCode != 0 {
			base.StatusCode = pc.StatusCode
		}
		if pc.FailOpen != nil {
			base.FailOpen = *pc.FailOpen
		}
		ps[name] = base
	}

	return ps
}

// CORSPolicyConfig returns the middleware form of the CORS allow-list.
func (c *Config) CORSPolicyConfig() middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowOrigins:     slices.Clone(c.CORS.AllowOrigins),
		AllowMethods:     normalizeMethods(c.CORS.AllowMethods),
		AllowHeaders:     slices.Clone(c.CORS.AllowHeaders),
		ExposeHeaders:    slices.Clone(c.CORS.ExposeHeaders),
		AllowCredentials: c.CORS.AllowCredentials,
		MaxAge:           c.CORS.MaxAge,
	}
}

// GatewayConfig returns the hot-updatable part of the configuration.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Policies:     c.PolicySet(),
		CORS:         c.CORSPolicyConfig(),
		Security:     c.Security,
		MaxBodyBytes: c.Server.MaxBodyBytes,
	}
}

// SanitizerMode returns the configured filter mode.
func (c *Config) SanitizerMode() sanitize.Mode {
	if c.Sanitizer.Mode == sanitize.ModeHTML.String() {
		return sanitize.ModeHTML
	}
	return sanitize.ModeSQL
}

// SanitizerLimits returns the decode and walk limits.
func (c *Config) SanitizerLimits() sanitize.Limits {
	return sanitize.Limits{MaxDepth: c.Sanitizer.MaxDepth, MaxNodes: c.Sanitizer.MaxNodes}
}

// UploadPolicy returns the upload limits with extensions lower-cased.
func (c *Config) UploadPolicy() sanitize.UploadPolicy {
	exts := make([]string, len(c.Upload.AllowedExtensions))
	for i, ext := range c.Upload.AllowedExtensions {
		exts[i] = strings.ToLower(ext)
	}
	return sanitize.UploadPolicy{MaxBytes: c.Upload.MaxBytes, AllowedExtensions: exts}
}

// PasswordPolicy returns the strength policy.
func (c *Config) PasswordPolicy() password.Policy {
	return password.Policy{
		MinLength:      c.Password.MinLength,
		RequireUpper:   c.Password.RequireUpper,
		RequireLower:   c.Password.RequireLower,
		RequireNumber:  c.Password.RequireNumber,
		RequireSpecial: c.Password.RequireSpecial,
	}
}

// LogConfig returns the logger configuration.
func (c *Config) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		Output:  c.Logging.Output,
		Service: DefaultServiceName,
	}
}

// TracerConfig returns the tracer configuration.
func (c *Config) TracerConfig() observability.TracerConfig {
	return observability.TracerConfig{
		ServiceName:  c.Tracing.ServiceName,
		OTLPEndpoint: c.Tracing.OTLPEndpoint,
		SamplingRate: c.Tracing.SamplingRate,
		Enabled:      c.Tracing.Enabled,
	}
}

// normalizeMethods upper-cases methods so "post" in a file matches POST.
func normalizeMethods(methods []string) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	return out
}
