package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alo17/secgateway/internal/observability"
)

// Default probe timeouts.
const (
	DefaultReadinessProbeTimeout = 5 * time.Second
	DefaultLivenessProbeTimeout  = 10 * time.Second
)

// Check statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDraining = "draining"
)

// HealthCheck defines the interface for health checks.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthCheck.
type HealthCheckFunc struct {
	name      string
	checkFunc func(ctx context.Context) error
}

// NewHealthCheckFunc creates a named health check from a function.
func NewHealthCheckFunc(name string, check func(ctx context.Context) error) *HealthCheckFunc {
	return &HealthCheckFunc{name: name, checkFunc: check}
}

// Name returns the name of the health check.
func (f *HealthCheckFunc) Name() string {
	return f.name
}

// Check performs the health check.
func (f *HealthCheckFunc) Check(ctx context.Context) error {
	return f.checkFunc(ctx)
}

// HealthStatus is the body of the health and readiness endpoints.
type HealthStatus struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is the result of a single health check.
type CheckResult struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves liveness, readiness and detailed health probes.
type Handler struct {
	mu     sync.RWMutex
	checks []HealthCheck

	logger           observability.Logger
	metrics          *Metrics
	version          string
	readinessTimeout time.Duration
	livenessTimeout  time.Duration
	startTime        time.Time
	draining         atomic.Bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records probe results.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(version string) Option {
	return func(h *Handler) {
		h.version = version
	}
}

// WithTimeouts overrides the probe timeouts. Non-positive values keep the
// defaults.
func WithTimeouts(readiness, liveness time.Duration) Option {
	return func(h *Handler) {
		if readiness > 0 {
			h.readinessTimeout = readiness
		}
		if liveness > 0 {
			h.livenessTimeout = liveness
		}
	}
}

// NewHandler creates a health handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:           observability.NopLogger(),
		readinessTimeout: DefaultReadinessProbeTimeout,
		livenessTimeout:  DefaultLivenessProbeTimeout,
		startTime:        time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck adds a health check.
func (h *Handler) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// RemoveCheck removes a health check by name.
func (h *Handler) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, check := range h.checks {
		if check.Name() == name {
			h.checks = append(h.checks[:i], h.checks[i+1:]...)
			return
		}
	}
}

// SetDraining marks the instance as shutting down. Readiness reports 503
// while draining so load balancers stop sending traffic.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// IsDraining reports whether SetDraining(true) was called.
func (h *Handler) IsDraining() bool {
	return h.draining.Load()
}

// LivenessHandler reports that the process is running.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.metrics.recordProbe("liveness", true)
		c.JSON(http.StatusOK, gin.H{
			"status":    StatusOK,
			"timestamp": time.Now().UTC(),
		})
	}
}

// ReadinessHandler reports whether the instance should receive traffic.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.IsDraining() {
			h.metrics.recordProbe("readiness", false)
			c.JSON(http.StatusServiceUnavailable, &HealthStatus{
				Status:    StatusDraining,
				Timestamp: time.Now().UTC(),
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), h.readinessTimeout)
		defer cancel()

		status := h.runChecks(ctx)
		h.respond(c, "readiness", status)
	}
}

// HealthHandler runs every check and reports details and uptime.
func (h *Handler) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.livenessTimeout)
		defer cancel()

		status := h.runChecks(ctx)
		status.Version = h.version
		status.Uptime = time.Since(h.startTime).Round(time.Second).String()
		h.respond(c, "health", status)
	}
}

func (h *Handler) respond(c *gin.Context, probe string, status *HealthStatus) {
	ok := status.Status == StatusOK
	h.metrics.recordProbe(probe, ok)

	statusCode := http.StatusOK
	if !ok {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, status)
}

// runChecks runs all health checks concurrently.
func (h *Handler) runChecks(ctx context.Context) *HealthStatus {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, check := range checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			duration := time.Since(start)

			result := &CheckResult{
				Status:    StatusOK,
				Duration:  duration.String(),
				Timestamp: time.Now().UTC(),
			}
			if err != nil {
				result.Status = StatusError
				result.Error = err.Error()

				h.logger.Warn("health check failed",
					observability.String("check", c.Name()),
					observability.Error(err),
					observability.Duration("duration", duration),
				)
			}
			h.metrics.setCheckStatus(c.Name(), err == nil)

			mu.Lock()
			defer mu.Unlock()
			status.Checks[c.Name()] = result
			if err != nil {
				status.Status = StatusError
			}
		}(check)
	}

	wg.Wait()
	return status
}

// RegisterRoutes registers the probe routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.HealthHandler())
	r.GET("/healthz", h.LivenessHandler())
	r.GET("/livez", h.LivenessHandler())
	r.GET("/ready", h.ReadinessHandler())
	r.GET("/readyz", h.ReadinessHandler())
}
