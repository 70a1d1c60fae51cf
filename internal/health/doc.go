// Package health serves liveness, readiness and detailed health probes.
//
// Checks run concurrently under the probe timeout. Readiness turns 503
// when any check fails or while the instance drains during shutdown;
// liveness only reports that the process is up.
//
//	h := health.NewHandler(health.WithLogger(logger))
//	h.AddCheck(health.StoreHealthCheck("ratelimit_store", st))
//	h.RegisterRoutes(engine)
package health
