// Package gateway composes rate limiting, CORS enforcement and JSON body
// sanitization into a single per-request decision.
//
// A request moves through these stages:
//
//	RECEIVED → RATE_CHECKED → CORS_CHECKED → OPTIONS_HANDLED
//	                                       → BODY_SANITIZED → ALLOWED
//
// Any stage may end in DENIED with a prepared JSON response. Handlers wrapped
// by Middleware or GinMiddleware read the filtered body with SanitizedBody
// and never touch the raw request body.
//
// ProcessRequest is not idempotent: every call counts against the client's
// rate limit budget, including caller-side retries.
package gateway
