package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/alo17/secgateway/internal/audit"
	"github.com/alo17/secgateway/internal/middleware"
	"github.com/alo17/secgateway/internal/observability"
	"github.com/alo17/secgateway/internal/ratelimit"
	"github.com/alo17/secgateway/internal/sanitize"
	"github.com/alo17/secgateway/internal/security"
)

const (
	// DefaultMaxBodyBytes bounds the JSON body read by ProcessRequest.
	DefaultMaxBodyBytes int64 = 1 << 20

	// DefaultDenialLogRate is the sustained number of denial log lines per second.
	DefaultDenialLogRate = 10

	// DefaultDenialLogBurst is the denial log burst size.
	DefaultDenialLogBurst = 20

	// maxSuspiciousFindings bounds the findings attached to one audit event.
	maxSuspiciousFindings = 10
)

// Client-facing denial messages.
const (
	MessageCORSViolation = "CORS policy violation"
	MessageMalformedBody = "Invalid request body"
)

const (
	spanName              = "gateway.ProcessRequest"
	attrClass             = "secgw.class"
	attrStage             = "secgw.stage"
	attrAllowed           = "secgw.allowed"
	attrHTTPMethod        = "http.request.method"
	attrDenialKind        = "secgw.denial.kind"
	attrSanitizedFindings = "secgw.suspicious.findings"
)

// Config is the hot-updatable gateway configuration.
type Config struct {
	// Policies replaces the limiter's policy set when non-empty.
	Policies ratelimit.PolicySet

	// CORS is the allow-list evaluated for every request.
	CORS middleware.CORSConfig

	// Security is rendered into headers applied to every response. Nil
	// means the defaults.
	Security *security.Config

	// MaxBodyBytes bounds request bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultConfig returns the marketplace defaults.
func DefaultConfig() Config {
	return Config{
		Policies:     ratelimit.DefaultPolicies(),
		CORS:         middleware.DefaultCORSConfig(),
		Security:     security.DefaultConfig(),
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error

	if len(c.Policies) > 0 {
		if err := c.Policies.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("policies: %w", err))
		}
	}
	if len(c.CORS.AllowMethods) == 0 {
		errs = append(errs, errors.New("cors: at least one method must be allowed"))
	}
	if c.Security != nil {
		if err := c.Security.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("security: %w", err))
		}
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("maxBodyBytes must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// snapshot is the immutable view of Config used by one request.
type snapshot struct {
	cors    *middleware.CORSPolicy
	headers security.HeaderSet
	maxBody int64
}

func newSnapshot(cfg Config) *snapshot {
	maxBody := cfg.MaxBodyBytes
	if maxBody == 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &snapshot{
		cors:    middleware.NewCORSPolicy(cfg.CORS),
		headers: security.NewHeaderSet(cfg.Security),
		maxBody: maxBody,
	}
}

// Gateway runs every request through rate limiting, CORS and body
// sanitization. It is safe for concurrent use.
type Gateway struct {
	limiter   *ratelimit.Limiter
	sanitizer *sanitize.Sanitizer
	recorder  *audit.Recorder
	logger    observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	denyLog   *rate.Limiter
	current   atomic.Pointer[snapshot]
}

// Option is a functional option for configuring the Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracer sets the tracer. Without one the global provider is used.
func WithTracer(t *observability.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithRecorder sets the security event recorder.
func WithRecorder(r *audit.Recorder) Option {
	return func(g *Gateway) {
		g.recorder = r
	}
}

// WithSanitizer replaces the default SQL-mode sanitizer.
func WithSanitizer(s *sanitize.Sanitizer) Option {
	return func(g *Gateway) {
		if s != nil {
			g.sanitizer = s
		}
	}
}

// WithDenialLogRate limits how many denials per second are logged.
func WithDenialLogRate(perSecond float64, burst int) Option {
	return func(g *Gateway) {
		g.denyLog = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New creates a Gateway. The limiter's policies are replaced by
// cfg.Policies when that set is non-empty.
func New(limiter *ratelimit.Limiter, cfg Config, opts ...Option) (*Gateway, error) {
	if limiter == nil {
		return nil, ErrNilLimiter
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		limiter:   limiter,
		sanitizer: sanitize.New(),
		logger:    observability.NopLogger(),
		denyLog:   rate.NewLimiter(DefaultDenialLogRate, DefaultDenialLogBurst),
	}

	for _, opt := range opts {
		opt(g)
	}

	if len(cfg.Policies) > 0 {
		if err := limiter.UpdatePolicies(cfg.Policies); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	g.current.Store(newSnapshot(cfg))

	return g, nil
}

// UpdateConfig atomically replaces the configuration. In-flight requests
// finish with the snapshot they started with.
func (g *Gateway) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if len(cfg.Policies) > 0 {
		if err := g.limiter.UpdatePolicies(cfg.Policies); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	g.current.Store(newSnapshot(cfg))

	g.recorder.Record(context.Background(), audit.NewEvent(audit.EventConfigReload, audit.SeverityLow, "").
		WithDetail("classes", len(g.limiter.Policies())).
		WithDetail("origins", len(cfg.CORS.AllowOrigins)))

	g.logger.Info("gateway configuration updated",
		observability.Int("origins", len(cfg.CORS.AllowOrigins)),
		observability.Int64("max_body_bytes", g.current.Load().maxBody),
	)
	return nil
}

// Limiter returns the rate limiter.
func (g *Gateway) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// SecurityHeaders returns the headers currently applied to every response.
func (g *Gateway) SecurityHeaders() security.HeaderSet {
	return g.current.Load().headers
}

// ProcessRequest runs r through RATE, CORS and body sanitization in that
// order. Every call consumes rate limit budget, retries included. For POST,
// PUT and PATCH the body is read and consumed.
func (g *Gateway) ProcessRequest(ctx context.Context, r *http.Request, class string) Decision {
	ctx = g.tracer.Extract(ctx, r.Header)
	ctx, span := g.tracer.StartSpan(ctx, spanName, trace.WithAttributes(
		attribute.String(attrClass, class),
		attribute.String(attrHTTPMethod, r.Method),
	))
	defer span.End()

	ip := ratelimit.GetClientIP(r)
	if ip != "" {
		ctx = observability.ContextWithClientIP(ctx, ip)
	}

	p := &pipeline{
		g:     g,
		snap:  g.current.Load(),
		ctx:   ctx,
		r:     r,
		class: class,
		span:  span,
		ip:    ip,
	}

	d := p.run()

	outcome := "allowed"
	if !d.Allow {
		outcome = "denied"
	}
	g.metrics.RecordDecision(p.class, d.Stage.String(), outcome)

	span.SetAttributes(
		attribute.String(attrStage, d.Stage.String()),
		attribute.Bool(attrAllowed, d.Allow),
	)
	if kind := KindOf(d.Err); kind != KindNone {
		span.SetAttributes(attribute.String(attrDenialKind, kind.String()))
	}

	return d
}

// pipeline carries the state of one ProcessRequest call.
type pipeline struct {
	g     *Gateway
	snap  *snapshot
	ctx   context.Context
	r     *http.Request
	class string
	span  trace.Span
	ip    string
}

func (p *pipeline) advance(s Stage) {
	p.span.AddEvent(s.String())
}

func (p *pipeline) run() Decision {
	p.advance(StageReceived)

	rl, ok := p.checkRate()
	if !ok {
		return rl
	}
	p.advance(StageRateChecked)

	corsHeaders, denied, ok := p.checkCORS()
	if !ok {
		return denied
	}
	p.advance(StageCORSChecked)

	if p.r.Method == http.MethodOptions {
		p.advance(StageOptionsHandled)
		h := corsHeaders.Clone()
		p.snap.headers.Apply(h)
		return Decision{
			Allow:    true,
			Stage:    StageOptionsHandled,
			Response: &PreparedResponse{StatusCode: http.StatusOK, Header: h},
			Err:      rl.Err,
		}
	}

	d := Decision{Allow: true, Headers: corsHeaders, Err: rl.Err}

	if hasBody(p.r.Method) {
		body, raw, bodyDenied, bodyOK := p.sanitizeBody()
		if !bodyOK {
			return bodyDenied
		}
		d.SanitizedBody = body
		d.RawFields = raw
		p.advance(StageBodySanitized)
	}

	p.advance(StageAllowed)
	d.Stage = StageAllowed
	return d
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// checkRate returns a denial or, when allowed, a Decision carrying any
// tolerated store error.
func (p *pipeline) checkRate() (Decision, bool) {
	start := time.Now()
	res := p.g.limiter.Check(p.ctx, p.r, p.class)
	p.g.metrics.ObserveStage("rate", time.Since(start))
	p.class = res.Class

	if res.Allowed {
		if res.Err != nil {
			p.logDenial("rate limit store failure tolerated by fail-open policy", res.Err)
			return Decision{Err: res.Err}, true
		}
		return Decision{}, true
	}

	if res.Err != nil {
		p.span.SetStatus(codes.Error, "rate limit store unavailable")
		p.record(audit.NewEvent(audit.EventStoreFailure, audit.SeverityHigh, p.ip).
			WithDetail("class", res.Class))
		p.logDenial("request denied: rate limit store unavailable", res.Err)

		return p.deny(newDenial(KindInternalStore, res.Denied.StatusCode, errors.Join(ErrInternalStore, res.Err)),
			jsonResponse(res.Denied.StatusCode, res.Denied.Message, nil)), false
	}

	p.record(audit.NewEvent(audit.EventRateLimitExceeded, audit.SeverityMedium, p.ip).
		WithUserAgent(p.r.UserAgent()).
		WithDetail("class", res.Class).
		WithDetail("count", res.Count).
		WithDetail("limit", res.Limit))
	p.logDenial("request denied: rate limit exceeded", nil,
		observability.Uint64("count", res.Count),
		observability.Uint64("limit", res.Limit),
	)

	extra := http.Header{}
	extra.Set(middleware.HeaderRetryAfter, retryAfter(res.ResetAfter))

	return p.deny(newDenial(KindRateLimitExceeded, res.Denied.StatusCode, nil),
		jsonResponse(res.Denied.StatusCode, res.Denied.Message, extra)), false
}

// retryAfter renders d as whole seconds, rounded up, at least one.
func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// checkCORS returns the CORS response headers or, on failure, the denial.
func (p *pipeline) checkCORS() (http.Header, Decision, bool) {
	start := time.Now()
	origin := p.r.Header.Get(middleware.HeaderOrigin)
	res := p.snap.cors.Evaluate(origin, p.r.Method)
	p.g.metrics.ObserveStage("cors", time.Since(start))

	if res.Allowed {
		return res.Headers, Decision{}, true
	}

	p.record(audit.NewEvent(audit.EventCORSViolation, audit.SeverityMedium, p.ip).
		WithUserAgent(p.r.UserAgent()).
		WithDetail("origin", origin).
		WithDetail("method", p.r.Method))
	p.logDenial("request denied: CORS policy violation", nil,
		observability.String("origin", origin),
	)

	return nil, p.deny(newDenial(KindCORSViolation, http.StatusForbidden, nil),
		jsonResponse(http.StatusForbidden, MessageCORSViolation, nil)), false
}

// sanitizeBody parses and filters the body and picks out the raw fields.
// On failure the returned Decision is the denial.
func (p *pipeline) sanitizeBody() (any, map[string]string, Decision, bool) {
	start := time.Now()
	defer func() { p.g.metrics.ObserveStage("sanitize", time.Since(start)) }()

	raw, err := p.readJSON()
	if err == nil {
		if findings := sanitize.Scan(raw, 0); len(findings) > 0 {
			p.recordSuspicious(findings)
		}

		var clean any
		clean, err = p.g.sanitizer.Sanitize(p.ctx, raw)
		if err == nil {
			return clean, p.g.sanitizer.RawFields(raw), Decision{}, true
		}
	}

	p.record(audit.NewEvent(audit.EventMalformedBody, audit.SeverityLow, p.ip).
		WithUserAgent(p.r.UserAgent()).
		WithDetail("error", err.Error()))
	p.logDenial("request denied: invalid request body", err)

	return nil, nil, p.deny(newDenial(KindMalformedBody, http.StatusBadRequest, errors.Join(ErrMalformedBody, err)),
		jsonResponse(http.StatusBadRequest, MessageMalformedBody, nil)), false
}

type decodeResult struct {
	v   any
	err error
}

// readJSON decodes the body in a separate goroutine so an expired deadline
// abandons a slow client. The goroutine exits when the server closes the body.
func (p *pipeline) readJSON() (any, error) {
	body := p.r.Body
	if body == nil || body == http.NoBody {
		return nil, fmt.Errorf("%w: empty body", sanitize.ErrSyntax)
	}

	limits := p.g.sanitizer.Limits()
	limited := http.MaxBytesReader(nil, body, p.snap.maxBody)

	done := make(chan decodeResult, 1)
	go func() {
		v, err := sanitize.Decode(limited, limits)
		done <- decodeResult{v: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(res.err, &tooLarge) {
				return nil, fmt.Errorf("%w: body exceeds %d bytes", sanitize.ErrTooLarge, tooLarge.Limit)
			}
		}
		return res.v, res.err
	case <-p.ctx.Done():
		return nil, fmt.Errorf("read body: %w", p.ctx.Err())
	}
}

func (p *pipeline) recordSuspicious(findings []sanitize.Finding) {
	n := min(len(findings), maxSuspiciousFindings)
	patterns := make([]string, 0, n)
	paths := make([]string, 0, n)
	for _, f := range findings[:n] {
		patterns = append(patterns, f.Pattern)
		paths = append(paths, f.Path)
	}

	p.span.SetAttributes(attribute.Int(attrSanitizedFindings, len(findings)))
	p.record(audit.NewEvent(audit.EventSuspiciousActivity, audit.SeverityHigh, p.ip).
		WithUserAgent(p.r.UserAgent()).
		WithDetail("type", "pattern_match").
		WithDetail("patterns", patterns).
		WithDetail("paths", paths).
		WithDetail("findings", len(findings)))
}

func (p *pipeline) deny(err *DenialError, resp *PreparedResponse) Decision {
	p.advance(StageDenied)
	p.snap.headers.Apply(resp.Header)
	return Decision{
		Stage:    StageDenied,
		Response: resp,
		Err:      err,
	}
}

func (p *pipeline) record(event *audit.Event) {
	p.g.recorder.Record(p.ctx, event)
}

// logDenial writes a warning unless denials are currently being throttled.
func (p *pipeline) logDenial(msg string, err error, fields ...observability.Field) {
	if !p.g.denyLog.Allow() {
		return
	}

	fields = append(fields,
		observability.String("class", p.class),
		observability.String("method", p.r.Method),
		observability.String("path", p.r.URL.Path),
	)
	if err != nil {
		fields = append(fields, observability.Error(err))
	}
	p.g.logger.WithContext(p.ctx).Warn(msg, fields...)
}
