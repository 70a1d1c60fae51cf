// Package audit records security events for the gateway.
//
// Events (rate limit denials, CORS violations, malformed bodies, suspicious
// input, login failures) are kept in a bounded in-memory ring, logged
// through the structured logger and counted in metrics. Operators can list
// them with a Filter and mark them resolved.
//
//	rec, err := audit.NewRecorder(audit.DefaultConfig(),
//	    audit.WithLogger(logger),
//	    audit.WithMetrics(metrics),
//	)
//	if err != nil {
//	    return err
//	}
//
//	rec.Record(ctx, audit.NewEvent(audit.EventFailedLogin, audit.SeverityMedium, ip).
//	    WithDetail("email", email))
package audit
