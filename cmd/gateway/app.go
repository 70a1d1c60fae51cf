package main

import (
	"errors"
	"fmt"

	"github.com/alo17/secgateway/internal/audit"
	"github.com/alo17/secgateway/internal/auth/admin"
	"github.com/alo17/secgateway/internal/auth/csrf"
	"github.com/alo17/secgateway/internal/auth/lockout"
	"github.com/alo17/secgateway/internal/auth/password"
	"github.com/alo17/secgateway/internal/config"
	"github.com/alo17/secgateway/internal/gateway"
	"github.com/alo17/secgateway/internal/health"
	"github.com/alo17/secgateway/internal/observability"
	"github.com/alo17/secgateway/internal/ratelimit"
	"github.com/alo17/secgateway/internal/ratelimit/store"
	"github.com/alo17/secgateway/internal/sanitize"
	"github.com/alo17/secgateway/internal/server"
)

// application holds all application components.
type application struct {
	config        *config.Config
	logger        observability.Logger
	metrics       *observability.Metrics
	reloadMetrics *reloadMetrics
	tracer        *observability.Tracer
	recorder      *audit.Recorder
	store         *store.MemoryStore
	limiter       *ratelimit.Limiter
	gateway       *gateway.Gateway
	csrf          *csrf.Store
	hasher        *password.Hasher
	lockout       *lockout.Guard
	admin         *admin.Guard
	uploadPolicy  sanitize.UploadPolicy
	users         *userStore
	dummyHash     string
	health        *health.Handler
	server        *server.Server

	// preflights holds the paths whose OPTIONS route is registered.
	preflights map[string]struct{}
}

// newApplication wires every component from cfg. The returned application
// is not started.
func newApplication(cfg *config.Config, logger observability.Logger, demoRoutes bool) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	if cfg.Metrics.Enabled {
		app.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
		app.metrics.SetBuildInfo(version)
	}
	app.reloadMetrics = newReloadMetrics(app.metrics, cfg.Metrics.Namespace)

	tracerCfg := cfg.TracerConfig()
	tracerCfg.ServiceVersion = version
	tracer, err := observability.NewTracer(tracerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	app.tracer = tracer

	recorder, err := audit.NewRecorder(cfg.Audit,
		audit.WithLogger(logger.Named("audit")),
		audit.WithMetrics(app.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize security event recorder: %w", err)
	}
	app.recorder = recorder

	app.store = store.NewMemoryStore(
		store.WithCleanupInterval(cfg.RateLimit.CleanupInterval.Duration()),
		store.WithLogger(logger.Named("store")),
	)

	app.limiter = ratelimit.New(app.store,
		ratelimit.WithPolicies(cfg.PolicySet()),
		ratelimit.WithFallbackToRemoteAddr(cfg.RateLimit.FallbackToRemoteAddr),
		ratelimit.WithLogger(logger.Named("ratelimit")),
		ratelimit.WithMetrics(app.metrics),
	)

	sanitizer := sanitize.New(
		sanitize.WithMode(cfg.SanitizerMode()),
		sanitize.WithLimits(cfg.SanitizerLimits()),
		sanitize.WithRawKeys(cfg.Sanitizer.RawKeys...),
		sanitize.WithLogger(logger.Named("sanitize")),
		sanitize.WithMetrics(app.metrics),
	)

	app.gateway, err = gateway.New(app.limiter, cfg.GatewayConfig(),
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithMetrics(app.metrics),
		gateway.WithTracer(tracer),
		gateway.WithRecorder(recorder),
		gateway.WithSanitizer(sanitizer),
	)
	if err != nil {
		_ = app.close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	app.csrf = csrf.NewStore(
		csrf.WithTTL(cfg.CSRF.TTL.Duration()),
		csrf.WithSweepInterval(cfg.CSRF.SweepInterval.Duration()),
		csrf.WithLogger(logger.Named("csrf")),
		csrf.WithMetrics(app.metrics),
	)
	app.hasher = password.New(
		password.WithIterations(cfg.Password.Iterations),
		password.WithPolicy(cfg.PasswordPolicy()),
		password.WithMetrics(app.metrics),
	)
	app.lockout = lockout.New(app.store,
		lockout.WithMaxAttempts(cfg.Lockout.MaxAttempts),
		lockout.WithLockoutDuration(cfg.Lockout.Duration.Duration()),
		lockout.WithRecorder(recorder),
		lockout.WithLogger(logger.Named("lockout")),
	)
	app.users = newUserStore()
	app.uploadPolicy = cfg.UploadPolicy()

	app.admin, err = admin.New(cfg.Admin.AllowIPs,
		admin.WithTrustForwarded(cfg.Admin.TrustForwarded),
		admin.WithRecorder(recorder),
		admin.WithLogger(logger.Named("admin")),
	)
	if err != nil {
		_ = app.close()
		return nil, fmt.Errorf("failed to create admin guard: %w", err)
	}

	// Logins for unknown emails verify against this hash so they cost the
	// same as logins for known ones.
	if app.dummyHash, err = app.hasher.Hash(csrf.NewSessionID()); err != nil {
		_ = app.close()
		return nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	var healthMetrics *health.Metrics
	if app.metrics != nil {
		healthMetrics = health.NewMetrics(cfg.Metrics.Namespace, app.metrics.Registry())
	}
	app.health = health.NewHandler(
		health.WithLogger(logger.Named("health")),
		health.WithMetrics(healthMetrics),
		health.WithVersion(version),
	)
	app.health.AddCheck(health.StoreHealthCheck("ratelimit_store", app.store))

	app.server = server.New(server.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
		AccessLog:    cfg.Logging.AccessLog,
	}, server.WithLogger(logger.Named("server")))

	app.registerRoutes(demoRoutes)

	return app, nil
}

// close releases background resources. It is safe on a partially built
// application.
func (app *application) close() error {
	var errs []error
	if app.csrf != nil {
		errs = append(errs, app.csrf.Close())
	}
	if app.store != nil {
		errs = append(errs, app.store.Close())
	}
	if app.recorder != nil {
		errs = append(errs, app.recorder.Close())
	}
	return errors.Join(errs...)
}
