package main

import (
	"errors"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alo17/secgateway/internal/audit"
	"github.com/alo17/secgateway/internal/auth/csrf"
	"github.com/alo17/secgateway/internal/auth/password"
	"github.com/alo17/secgateway/internal/gateway"
	"github.com/alo17/secgateway/internal/observability"
	"github.com/alo17/secgateway/internal/ratelimit"
	"github.com/alo17/secgateway/internal/sanitize"
)

// Response messages of the demo routes.
const (
	msgInvalidCSRF        = "Invalid CSRF token"
	msgInvalidBody        = "Invalid request body"
	msgWeakPassword       = "Password does not meet requirements"
	msgUserExists         = "User already exists"
	msgInvalidCredentials = "Invalid email or password"
	msgUnavailable        = "Service temporarily unavailable"
	msgEventNotFound      = "Event not found"
	msgInvalidIP          = "Invalid IP address"
)

const fieldPassword = "password"

// registerRoutes registers probes, metrics, the internal endpoints and,
// when enabled, the demo routes. The internal endpoints only answer clients
// on the admin allow-list.
func (app *application) registerRoutes(demoRoutes bool) {
	engine := app.server.Engine()

	app.health.RegisterRoutes(engine)
	if app.metrics != nil {
		engine.GET(app.config.Metrics.Path, gin.WrapH(app.metrics.Handler()))
	}

	internal := engine.Group("/internal", app.admin.GinMiddleware())
	app.secured(internal, http.MethodGet, "/ratelimit/stats", ratelimit.ClassAPI, app.handleRateLimitStats)
	app.secured(internal, http.MethodGet, "/security/events", ratelimit.ClassAPI, app.handleSecurityEvents)
	app.secured(internal, http.MethodDelete, "/security/events", ratelimit.ClassAPI, app.handleClearEvents)
	app.secured(internal, http.MethodGet, "/security/stats", ratelimit.ClassAPI, app.handleSecurityStats)
	app.secured(internal, http.MethodPost, "/security/events/:id/resolve", ratelimit.ClassAPI, app.handleResolveEvent)
	app.secured(internal, http.MethodDelete, "/security/lockout", ratelimit.ClassAPI, app.handleClearLockouts)
	app.secured(internal, http.MethodDelete, "/security/lockout/:ip", ratelimit.ClassAPI, app.handleClearLockout)

	if !demoRoutes {
		return
	}

	api := engine.Group("/api")
	app.secured(api, http.MethodGet, "/csrf", ratelimit.ClassAPI, app.handleCSRF)
	app.secured(api, http.MethodPost, "/auth/register", ratelimit.ClassAuth, app.handleRegister)
	app.secured(api, http.MethodPost, "/auth/login", ratelimit.ClassAuth, app.handleLogin)
	app.secured(api, http.MethodPost, "/echo", ratelimit.ClassDefault, app.handleEcho)
	app.secured(api, http.MethodPost, "/uploads/check", ratelimit.ClassAPI, app.handleUploadCheck)
}

// secured registers handler behind the gateway for method and, once per
// path, for the OPTIONS preflight, which the gateway answers itself.
func (app *application) secured(group *gin.RouterGroup, method, path, class string, handler gin.HandlerFunc) {
	mw := app.gateway.GinMiddleware(class)
	group.Handle(method, path, mw, handler)

	full := group.BasePath() + path
	if _, done := app.preflights[full]; done {
		return
	}
	if app.preflights == nil {
		app.preflights = make(map[string]struct{})
	}
	app.preflights[full] = struct{}{}
	group.OPTIONS(path, mw)
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func clientIP(r *http.Request) string {
	if ip := ratelimit.GetClientIP(r); ip != "" {
		return ip
	}
	return ratelimit.RemoteIP(r)
}

// ============================================================================
// Internal endpoints
// ============================================================================

func (app *application) handleRateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"classes":       app.limiter.Stats(),
		"lockedClients": app.lockout.Locked(),
		"csrfTokens":    app.csrf.Len(),
	})
}

func (app *application) handleSecurityEvents(c *gin.Context) {
	filter := audit.Filter{
		Type:     audit.EventType(c.Query("type")),
		Severity: audit.Severity(c.Query("severity")),
		IP:       c.Query("ip"),
		UserID:   c.Query("userId"),
	}
	if v := c.Query("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "Invalid resolved filter")
			return
		}
		filter.Resolved = &resolved
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "Invalid since filter")
			return
		}
		filter.Since = since
	}

	events := app.recorder.Events(filter)
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (app *application) handleSecurityStats(c *gin.Context) {
	c.JSON(http.StatusOK, app.recorder.Stats())
}

func (app *application) handleResolveEvent(c *gin.Context) {
	if !app.recorder.Resolve(c.Param("id")) {
		errorJSON(c, http.StatusNotFound, msgEventNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// handleClearEvents drops stored events, all of them or those older than
// the "before" query parameter.
func (app *application) handleClearEvents(c *gin.Context) {
	var before time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "Invalid before filter")
			return
		}
		before = t
	}

	removed := app.recorder.Clear(before)
	app.logger.WithContext(c.Request.Context()).Info("security events cleared", observability.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (app *application) handleClearLockout(c *gin.Context) {
	ip, err := netip.ParseAddr(c.Param("ip"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, msgInvalidIP)
		return
	}

	if err := app.lockout.Clear(c.Request.Context(), ip.String()); err != nil {
		app.logger.WithContext(c.Request.Context()).Error("failed to clear lockout", observability.Error(err))
		errorJSON(c, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": ip.String()})
}

func (app *application) handleClearLockouts(c *gin.Context) {
	unlocked, err := app.lockout.ClearAll(c.Request.Context())
	if err != nil {
		app.logger.WithContext(c.Request.Context()).Error("failed to clear lockouts", observability.Error(err))
		errorJSON(c, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

// ============================================================================
// Demo auth flow
// ============================================================================

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleCSRF issues a token bound to the caller's session cookie, creating
// the session when there is none.
func (app *application) handleCSRF(c *gin.Context) {
	sessionID, _ := csrf.FromRequest(c.Request)
	if sessionID == "" {
		sessionID = csrf.NewSessionID()
	}

	token, err := app.csrf.Issue(sessionID)
	if err != nil {
		app.logger.WithContext(c.Request.Context()).Error("failed to issue csrf token", observability.Error(err))
		errorJSON(c, http.StatusServiceUnavailable, msgUnavailable)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(csrf.SessionCookieName, sessionID, int(app.csrf.TTL().Seconds()), "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

// checkCSRF consumes the request's token. It answers 403 and reports false
// when the token is missing or wrong.
func (app *application) checkCSRF(c *gin.Context) bool {
	sessionID, token := csrf.FromRequest(c.Request)
	if app.csrf.Consume(sessionID, token) {
		return true
	}

	app.recorder.Record(c.Request.Context(),
		audit.NewEvent(audit.EventCSRFFailure, audit.SeverityMedium, clientIP(c.Request)).
			WithUserAgent(c.Request.UserAgent()).
			WithRequestID(observability.RequestIDFromContext(c.Request.Context())).
			WithDetail("path", c.Request.URL.Path))
	errorJSON(c, http.StatusForbidden, msgInvalidCSRF)
	return false
}

// bindBody copies the sanitized body into dst. It answers 400 and reports
// false on failure.
func bindBody(c *gin.Context, dst any) bool {
	body, ok := gateway.SanitizedBody(c.Request.Context())
	if !ok || sanitize.Bind(body, dst) != nil {
		errorJSON(c, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

// rawPassword returns the unfiltered password of the body. The filtered one
// is kept only when the field was not a string.
func rawPassword(c *gin.Context, filtered string) string {
	if pw, ok := gateway.RawField(c.Request.Context(), fieldPassword); ok {
		return pw
	}
	return filtered
}

func (app *application) handleRegister(c *gin.Context) {
	if !app.checkCSRF(c) {
		return
	}

	var req registerRequest
	if !bindBody(c, &req) {
		return
	}
	req.Password = rawPassword(c, req.Password)
	if normalizeEmail(req.Email) == "" {
		errorJSON(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if errs := app.hasher.CheckStrength(req.Password); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   msgWeakPassword,
			"details": password.Messages(errs),
		})
		return
	}

	hash, err := app.hasher.Hash(req.Password)
	if err != nil {
		app.logger.WithContext(c.Request.Context()).Error("failed to hash password", observability.Error(err))
		errorJSON(c, http.StatusServiceUnavailable, msgUnavailable)
		return
	}

	u, err := app.users.create(req.Email, req.Name, hash)
	if err != nil {
		errorJSON(c, http.StatusConflict, msgUserExists)
		return
	}

	c.JSON(http.StatusCreated, u)
}

func (app *application) handleLogin(c *gin.Context) {
	if !app.checkCSRF(c) {
		return
	}

	var req loginRequest
	if !bindBody(c, &req) {
		return
	}
	req.Password = rawPassword(c, req.Password)

	ctx := c.Request.Context()
	ip := clientIP(c.Request)

	status := app.lockout.Check(ctx, ip, req.Email)
	if !status.Allowed {
		if status.Err != nil {
			errorJSON(c, http.StatusServiceUnavailable, status.Reason)
			return
		}
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(status.RetryAfter.Seconds()))))
		errorJSON(c, http.StatusTooManyRequests, status.Reason)
		return
	}

	u, found := app.users.get(req.Email)
	stored := app.dummyHash
	if found {
		stored = u.passwordHash
	}

	if !app.hasher.Verify(req.Password, stored) || !found {
		locked, err := app.lockout.RecordFailure(ctx, ip, req.Email, "invalid_credentials")
		if err != nil {
			app.logger.WithContext(ctx).Error("failed to record login failure", observability.Error(err))
		}
		if locked {
			c.Header("Retry-After", strconv.Itoa(int(app.config.Lockout.Duration.Duration().Seconds())))
		}
		errorJSON(c, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	if err := app.lockout.RecordSuccess(ctx, ip, req.Email, u.ID); err != nil {
		app.logger.WithContext(ctx).Warn("failed to clear login failures", observability.Error(err))
	}
	c.JSON(http.StatusOK, u)
}

// handleEcho returns the sanitized body with key order preserved.
func (app *application) handleEcho(c *gin.Context) {
	body, ok := gateway.SanitizedBody(c.Request.Context())
	if !ok {
		errorJSON(c, http.StatusBadRequest, msgInvalidBody)
		return
	}

	data, err := sanitize.Marshal(body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, msgInvalidBody)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// ============================================================================
// Upload check
// ============================================================================

type uploadCheckRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// handleUploadCheck validates a file's name and size before the client
// sends it.
func (app *application) handleUploadCheck(c *gin.Context) {
	var req uploadCheckRequest
	if !bindBody(c, &req) {
		return
	}

	ctx := c.Request.Context()
	ip := clientIP(c.Request)
	check, err := sanitize.CheckUpload(req.Filename, req.Size, app.uploadPolicy)

	event := audit.NewEvent(audit.EventFileUpload, audit.SeverityLow, ip).
		WithUserAgent(c.Request.UserAgent()).
		WithDetail("filename", req.Filename).
		WithDetail("file_size", req.Size).
		WithDetail("file_extension", check.Extension)

	if err == nil {
		app.recorder.Record(ctx, event.WithDetail("success", true))
		c.JSON(http.StatusOK, gin.H{"allowed": true})
		return
	}

	status := http.StatusBadRequest
	event.Severity = audit.SeverityHigh
	if errors.Is(err, sanitize.ErrFileTooLarge) {
		status = http.StatusRequestEntityTooLarge
		event.Severity = audit.SeverityMedium
	}
	event.WithDetail("reason", check.Reason)
	if check.Pattern != "" {
		event.WithDetail("pattern", check.Pattern)
	}
	app.recorder.Record(ctx, event)

	c.JSON(status, gin.H{"allowed": false, "reason": uploadRejection(err)})
}

// uploadRejection returns the user-facing reason for err.
func uploadRejection(err error) string {
	for _, reason := range []error{sanitize.ErrFileTooLarge, sanitize.ErrFileTypeDenied, sanitize.ErrSuspiciousFilename} {
		if errors.Is(err, reason) {
			return reason.Error()
		}
	}
	return msgInvalidBody
}
