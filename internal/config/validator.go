package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alo17/secgateway/internal/auth/admin"
	"github.com/alo17/secgateway/internal/auth/password"
	"github.com/alo17/secgateway/internal/ratelimit"
	"github.com/alo17/secgateway/internal/sanitize"
)

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
	validMethods    = map[string]bool{
		http.MethodGet: true, http.MethodHead: true, http.MethodPost: true, http.MethodPut: true,
		http.MethodPatch: true, http.MethodDelete: true, http.MethodOptions: true,
	}
)

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates cfg and returns ValidationErrors, which match
// ErrInvalidConfig, when anything is wrong.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&cfg.Server)
	v.validateLogging(&cfg.Logging)
	v.validateTracing(&cfg.Tracing)
	v.validateMetrics(&cfg.Metrics)
	v.validateRateLimit(cfg)
	v.validateCORS(&cfg.CORS)
	v.validateSanitizer(&cfg.Sanitizer)
	v.validateAuth(cfg)
	v.validateAdmin(&cfg.Admin)
	v.validateUpload(&cfg.Upload)

	if err := cfg.Security.Validate(); err != nil {
		v.addError("security", err.Error())
	}
	if err := cfg.Audit.Validate(); err != nil {
		v.addError("audit", err.Error())
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.ListenAddr == "" {
		v.addError("server.listenAddr", "listen address is required")
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.IdleTimeout < 0 || s.ShutdownTimeout < 0 {
		v.addError("server", "timeouts must not be negative")
	}
	if s.MaxBodyBytes < 0 {
		v.addError("server.maxBodyBytes", "must not be negative")
	}
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	if l.Level != "" && !validLogLevels[strings.ToLower(l.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level: %s", l.Level))
	}
	if l.Format != "" && !validLogFormats[l.Format] {
		v.addError("logging.format", fmt.Sprintf("invalid log format: %s (must be 'json' or 'console')", l.Format))
	}
}

func (v *Validator) validateTracing(t *TracingConfig) {
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "must be between 0 and 1")
	}
	if t.Enabled && t.ServiceName == "" {
		v.addError("tracing.serviceName", "service name is required when tracing is enabled")
	}
}

func (v *Validator) validateMetrics(m *MetricsConfig) {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		v.addError("metrics.path", "must start with '/'")
	}
}

func (v *Validator) validateRateLimit(cfg *Config) {
	if cfg.RateLimit.CleanupInterval < 0 {
		v.addError("rateLimit.cleanupInterval", "must not be negative")
	}

	for name, pc := range cfg.RateLimit.Policies {
		path := "rateLimit.policies." + name
		if name == "" {
			v.addError("rateLimit.policies", "class name must not be empty")
		}
		if pc.Window < 0 {
			v.addError(path+".window", "must not be negative")
		}
		if pc.StatusCode != 0 && (pc.StatusCode < 400 || pc.StatusCode > 599) {
			v.addError(path+".statusCode", fmt.Sprintf("invalid status code: %d", pc.StatusCode))
		}
	}

	if err := cfg.PolicySet().Validate(); err != nil {
		v.addError("rateLimit.policies", err.Error())
	}
}

func (v *Validator) validateCORS(c *CORSConfig) {
	if len(c.AllowMethods) == 0 {
		v.addError("cors.allowMethods", "at least one method must be allowed")
	}
	for _, m := range normalizeMethods(c.AllowMethods) {
		if !validMethods[m] {
			v.addError("cors.allowMethods", fmt.Sprintf("invalid method: %s", m))
		}
	}

	for _, origin := range c.AllowOrigins {
		switch {
		case origin == "*":
			if c.AllowCredentials {
				v.addError("cors.allowOrigins", "'*' cannot be combined with allowCredentials")
			}
		case strings.HasPrefix(origin, "*."):
		default:
			u, err := url.Parse(origin)
			if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
				v.addError("cors.allowOrigins", fmt.Sprintf("invalid origin: %s", origin))
			}
		}
	}

	if c.MaxAge < 0 {
		v.addError("cors.maxAge", "must not be negative")
	}
}

func (v *Validator) validateSanitizer(s *SanitizerConfig) {
	if s.Mode != sanitize.ModeSQL.String() && s.Mode != sanitize.ModeHTML.String() {
		v.addError("sanitizer.mode", fmt.Sprintf("invalid mode: %s (must be 'sql' or 'html')", s.Mode))
	}
	if s.MaxDepth <= 0 {
		v.addError("sanitizer.maxDepth", "must be positive")
	}
	if s.MaxNodes <= 0 {
		v.addError("sanitizer.maxNodes", "must be positive")
	}
}

func (v *Validator) validateAuth(cfg *Config) {
	if cfg.CSRF.TTL <= 0 {
		v.addError("csrf.ttl", "must be positive")
	}
	if cfg.CSRF.SweepInterval < 0 {
		v.addError("csrf.sweepInterval", "must not be negative")
	}
	if cfg.Password.Iterations < password.MinIterations || cfg.Password.Iterations > password.MaxIterations {
		v.addError("password.iterations",
			fmt.Sprintf("must be between %d and %d", password.MinIterations, password.MaxIterations))
	}
	if cfg.Password.MinLength < 1 {
		v.addError("password.minLength", "must be positive")
	}
	if cfg.Lockout.MaxAttempts == 0 {
		v.addError("lockout.maxAttempts", "must be positive")
	}
	if cfg.Lockout.Duration <= 0 {
		v.addError("lockout.duration", "must be positive")
	}

	authPolicy := cfg.PolicySet()[ratelimit.ClassAuth]
	if authPolicy.FailOpen {
		v.addError("rateLimit.policies.auth.failOpen", "the auth class must fail closed")
	}
}

func (v *Validator) validateAdmin(a *AdminConfig) {
	if _, err := admin.ParseAllowList(a.AllowIPs); err != nil {
		v.addError("admin.allowIPs", err.Error())
	}
}

func (v *Validator) validateUpload(u *UploadConfig) {
	if u.MaxBytes <= 0 {
		v.addError("upload.maxBytes", "must be positive")
	}
	for i, ext := range u.AllowedExtensions {
		if len(ext) < 2 || !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext[1:], `./\`) {
			v.addError(fmt.Sprintf("upload.allowedExtensions[%d]", i), fmt.Sprintf("invalid extension: %q", ext))
		}
	}
}
