package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the security gateway.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	decisionsTotal        *prometheus.CounterVec
	stageDuration         *prometheus.HistogramVec
	rateLimitActiveKeys   *prometheus.GaugeVec
	sanitizedStrings      prometheus.Counter
	csrfValidations       *prometheus.CounterVec
	passwordVerifications *prometheus.CounterVec
	securityEvents        *prometheus.CounterVec
	buildInfo             *prometheus.GaugeVec
	registry              *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "secgw"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of gateway decisions by policy class, final stage and outcome",
		},
		[]string{"class", "stage", "outcome"},
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual gateway pipeline stages in seconds",
			Buckets: []float64{
				.00001, .00005, .0001, .0005, .001,
				.005, .01, .05, .1, .5,
			},
		},
		[]string{"stage"},
	)

	m.rateLimitActiveKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ratelimit_active_keys",
			Help:      "Number of live rate limit records per policy class",
		},
		[]string{"class"},
	)

	m.sanitizedStrings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanitized_strings_total",
			Help:      "Total number of string values modified by the input sanitizer",
		},
	)

	m.csrfValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_validations_total",
			Help:      "Total number of CSRF token validations by result",
		},
		[]string{"result"},
	)

	m.passwordVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_verifications_total",
			Help:      "Total number of password verifications by result",
		},
		[]string{"result"},
	)

	m.securityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Total number of recorded security events",
		},
		[]string{"type", "severity"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the security gateway",
		},
		[]string{"version"},
	)

	m.registry.MustRegister(
		m.decisionsTotal,
		m.stageDuration,
		m.rateLimitActiveKeys,
		m.sanitizedStrings,
		m.csrfValidations,
		m.passwordVerifications,
		m.securityEvents,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordDecision counts a final gateway decision.
func (m *Metrics) RecordDecision(class, stage, outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(class, stage, outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetActiveKeys sets the live record count for a policy class.
func (m *Metrics) SetActiveKeys(class string, n int) {
	if m == nil {
		return
	}
	m.rateLimitActiveKeys.WithLabelValues(class).Set(float64(n))
}

// AddSanitizedStrings adds to the modified-string counter.
func (m *Metrics) AddSanitizedStrings(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sanitizedStrings.Add(float64(n))
}

// RecordCSRFValidation counts a CSRF validation result ("valid", "invalid", "expired").
func (m *Metrics) RecordCSRFValidation(result string) {
	if m == nil {
		return
	}
	m.csrfValidations.WithLabelValues(result).Inc()
}

// RecordPasswordVerification counts a password verification result ("match", "mismatch").
func (m *Metrics) RecordPasswordVerification(result string) {
	if m == nil {
		return
	}
	m.passwordVerifications.WithLabelValues(result).Inc()
}

// RecordSecurityEvent counts a recorded security event.
func (m *Metrics) RecordSecurityEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(eventType, severity).Inc()
}

// SetBuildInfo publishes the running version.
func (m *Metrics) SetBuildInfo(version string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version).Set(1)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
