package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of security event.
type EventType string

// Event types.
const (
	EventLoginAttempt       EventType = "login_attempt"
	EventFailedLogin        EventType = "failed_login"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventCORSViolation      EventType = "cors_violation"
	EventMalformedBody      EventType = "malformed_body"
	EventCSRFFailure        EventType = "csrf_failure"
	EventStoreFailure       EventType = "store_failure"
	EventConfigReload       EventType = "config_reload"
	EventFileUpload         EventType = "file_upload"
	EventAdminAccess        EventType = "admin_access"
)

// Severity ranks an event.
type Severity string

// Severities, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s ranks at or above min.
func (s Severity) AtLeast(minimum Severity) bool {
	return severityRank[s] >= severityRank[minimum]
}

// Event represents a security event.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Severity ranks the event.
	Severity Severity `json:"severity"`

	// IP is the client address the event is attributed to.
	IP string `json:"ip"`

	// UserID identifies the account involved, if any.
	UserID string `json:"user_id,omitempty"`

	// UserAgent is the client user agent.
	UserAgent string `json:"user_agent,omitempty"`

	// RequestID correlates the event with access logs.
	RequestID string `json:"request_id,omitempty"`

	// TraceID is the trace ID for distributed tracing.
	TraceID string `json:"trace_id,omitempty"`

	// Details carries event specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Resolved is set once an operator has handled the event.
	Resolved bool `json:"resolved"`
}

// NewEvent creates a new event with default values.
func NewEvent(eventType EventType, severity Severity, ip string) *Event {
	return &Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		IP:        ip,
		Details:   make(map[string]interface{}),
	}
}

// WithUser sets the user ID.
func (e *Event) WithUser(userID string) *Event {
	e.UserID = userID
	return e
}

// WithUserAgent sets the user agent.
func (e *Event) WithUserAgent(userAgent string) *Event {
	e.UserAgent = userAgent
	return e
}

// WithRequestID sets the request ID.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithDetail adds a detail entry.
func (e *Event) WithDetail(key string, value interface{}) *Event {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// clone returns a copy that does not share the details map.
func (e *Event) clone() Event {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return c
}

// generateEventID generates a unique event ID using UUID v4.
func generateEventID() string {
	return uuid.New().String()
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Type     EventType
	Severity Severity
	IP       string
	UserID   string
	Resolved *bool
	Since    time.Time
	Until    time.Time
}

// Match reports whether e satisfies the filter.
func (f Filter) Match(e *Event) bool {
	switch {
	case f.Type != "" && e.Type != f.Type:
		return false
	case f.Severity != "" && e.Severity != f.Severity:
		return false
	case f.IP != "" && e.IP != f.IP:
		return false
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case f.Resolved != nil && e.Resolved != *f.Resolved:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.Timestamp.After(f.Until):
		return false
	}
	return true
}

// Stats summarizes the stored events.
type Stats struct {
	Total      int               `json:"total_events"`
	ByType     map[EventType]int `json:"events_by_type"`
	BySeverity map[Severity]int  `json:"events_by_severity"`
	Recent     int               `json:"recent_events"`
	Unresolved int               `json:"unresolved_events"`
}
