// Package security renders the fixed browser-hardening response headers
// (nosniff, frame deny, HSTS, Referrer-Policy, Permissions-Policy) that the
// gateway attaches to every response, including its own denials.
//
//	set := security.NewHeaderSet(security.DefaultConfig())
//	set.Apply(w.Header())
package security
