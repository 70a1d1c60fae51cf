// Package middleware provides HTTP middleware components and the CORS policy
// evaluator used by the security gateway.
package middleware

// maxRequestIDLength bounds client-supplied request IDs before they reach logs.
const maxRequestIDLength = 128

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderOrigin is the Origin header name.
	HeaderOrigin = "Origin"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"
)

// Content type constants.
const (
	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

// Error response constants.
const (
	// ErrInternalServerError is the error message for internal server error.
	ErrInternalServerError = `{"error":"internal server error"}`
)
