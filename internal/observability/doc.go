// Package observability provides logging, metrics, and tracing
// functionality for the security gateway.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("decision",
//	    observability.String("class", "auth"),
//	    observability.Bool("allow", false),
//	)
//
// # Metrics
//
// Prometheus series for gateway decisions, stage latency, rate limit
// occupancy and the auth helpers live on a private registry:
//
//	metrics := observability.NewMetrics("secgw")
//	mux.Handle("/metrics", metrics.Handler())
//
// # Tracing
//
// OpenTelemetry tracing with optional OTLP gRPC export. A disabled tracer
// still hands out no-op spans so callers never branch on it.
package observability
