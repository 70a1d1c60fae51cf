package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/alo17/secgateway/internal/middleware"
)

// Stage is a checkpoint in the per-request pipeline.
type Stage int

const (
	StageReceived Stage = iota
	StageRateChecked
	StageCORSChecked
	StageOptionsHandled
	StageBodySanitized
	StageAllowed
	StageDenied
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "RECEIVED"
	case StageRateChecked:
		return "RATE_CHECKED"
	case StageCORSChecked:
		return "CORS_CHECKED"
	case StageOptionsHandled:
		return "OPTIONS_HANDLED"
	case StageBodySanitized:
		return "BODY_SANITIZED"
	case StageAllowed:
		return "ALLOWED"
	case StageDenied:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further stage follows s.
func (s Stage) Terminal() bool {
	return s == StageOptionsHandled || s == StageAllowed || s == StageDenied
}

// PreparedResponse is a complete response the caller writes verbatim.
type PreparedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Write copies the response to w. Headers already set on w are kept unless
// the prepared response overrides them.
func (p *PreparedResponse) Write(w http.ResponseWriter) {
	for name, values := range p.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.WriteHeader(p.StatusCode)
	if len(p.Body) > 0 {
		_, _ = w.Write(p.Body)
	}
}

// Decision is the outcome of ProcessRequest.
type Decision struct {
	// Allow reports whether the request passed every stage.
	Allow bool

	// Response is set for denials and for a handled preflight. When set,
	// the caller writes it and does not run the handler.
	Response *PreparedResponse

	// SanitizedBody holds the filtered JSON body of POST, PUT and PATCH
	// requests. Handlers read this instead of the raw body.
	SanitizedBody any

	// RawFields holds the unfiltered top-level values of the sanitizer's
	// raw keys, such as a password that is only ever hashed.
	RawFields map[string]string

	// Stage is the terminal stage reached.
	Stage Stage

	// Err is a *DenialError for denials. It may also carry a tolerated
	// store failure on an allowed request.
	Err error

	// Headers are CORS headers for the handler's response on an allowed,
	// non-preflight request.
	Headers http.Header
}

type errorBody struct {
	Error string `json:"error"`
}

func jsonResponse(status int, message string, extra http.Header) *PreparedResponse {
	body, err := json.Marshal(errorBody{Error: message})
	if err != nil {
		body = []byte(middleware.ErrInternalServerError)
	}

	h := make(http.Header, len(extra)+1)
	for name, values := range extra {
		h[name] = append([]string(nil), values...)
	}
	h.Set(middleware.HeaderContentType, middleware.ContentTypeJSON)

	return &PreparedResponse{StatusCode: status, Header: h, Body: body}
}
