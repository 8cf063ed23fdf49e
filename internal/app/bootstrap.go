package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"property-portal/internal/audit"
	"property-portal/internal/auth"
	"property-portal/internal/config"
	"property-portal/internal/db"
	"property-portal/internal/guard"
	"property-portal/internal/maintenance"
	"property-portal/internal/observability"
	"property-portal/internal/ratelimit"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Config  *config.Config
	Logger  *observability.Logger
	Handler http.Handler
	Close   func() error
}

func Build(ctx context.Context, options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		config.LoadDotEnv()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.AppEnv)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := observability.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("configure trusted proxies: %w", err)
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	pool, err := db.Open(ctx, db.PoolOptions{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}

	closers := []func() error{func() error { pool.Close(); return nil }}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		observability.FlushSentry()
		_ = logger.Sync()
		return errors.Join(errs...)
	}

	if options.RunMigrations || cfg.RunMigrations {
		if err := db.RunMigrations(ctx, pool); err != nil {
			_ = closeAll()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var (
		rateStore ratelimit.Store
		pruner    maintenance.BucketPruner
	)
	switch cfg.RateLimitBackend {
	case "redis":
		client, err := ratelimit.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			_ = closeAll()
			return nil, err
		}
		closers = append(closers, client.Close)
		rateStore = ratelimit.NewRedisStore(client)
	case "memory":
		rateStore = ratelimit.NewMemoryStore()
	default:
		pgStore := ratelimit.NewPostgresStore(pool)
		rateStore = pgStore
		pruner = pgStore
	}

	authRepo := auth.NewRepository(pool)
	c, err := newComponents(cfg, componentDeps{
		credentials: authRepo,
		lockouts:    authRepo,
		auditStore:  audit.NewPostgresStore(pool),
		rateStore:   rateStore,
		pruner:      pruner,
		sweeper:     authRepo,
		health:      pool,
		gatherer:    registry,
		logger:      logger,
		metrics:     metrics,
	})
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	if cfg.AdminEmail != "" {
		if err := c.authService.BootstrapAdmin(ctx, authRepo, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			_ = closeAll()
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	logger.Info("app_bootstrapped", map[string]any{
		"env":                cfg.AppEnv,
		"rate_limit_backend": cfg.RateLimitBackend,
	})

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Handler: c.handler(),
		Close:   closeAll,
	}, nil
}

type componentDeps struct {
	credentials auth.CredentialStore
	lockouts    auth.LockoutStore
	auditStore  audit.Store
	rateStore   ratelimit.Store
	pruner      maintenance.BucketPruner
	sweeper     maintenance.LockoutSweeper
	health      pinger
	gatherer    prometheus.Gatherer
	logger      *observability.Logger
	metrics     *observability.Metrics
}

type components struct {
	logger       *observability.Logger
	metrics      *observability.Metrics
	gatherer     prometheus.Gatherer
	health       pinger
	authService  *auth.Service
	auditService *audit.Service
	authHandler  *auth.Handler
	auditHandler *audit.Handler
	cleanup      *maintenance.CleanupHandler
	limiter      *ratelimit.Limiter
	guard        *guard.Guard
}

func newComponents(cfg *config.Config, deps componentDeps) (*components, error) {
	hasher, err := auth.NewPasswordHasher(auth.Argon2Params{
		Memory:      cfg.Argon2.MemoryKB,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	tokens := auth.NewTokenService(auth.TokenConfig{
		Secret:               cfg.JWT.Secret,
		Issuer:               cfg.JWT.Issuer,
		Audience:             cfg.JWT.Audience,
		AccessTTL:            cfg.JWT.AccessTTL,
		RefreshTTL:           cfg.JWT.RefreshTTL,
		EmailVerificationTTL: cfg.JWT.EmailVerificationTTL,
		PasswordResetTTL:     cfg.JWT.PasswordResetTTL,
	})

	lockout, err := auth.NewLockoutPolicy(deps.lockouts, cfg.Lockout.MaxAttempts, cfg.Lockout.LockDuration)
	if err != nil {
		return nil, fmt.Errorf("init lockout policy: %w", err)
	}

	auditService := audit.NewService(deps.auditStore, deps.logger, deps.metrics)

	authService := auth.NewService(auth.ServiceDeps{
		Credentials: deps.credentials,
		Lockout:     lockout,
		Hasher:      hasher,
		Tokens:      tokens,
		Audit:       auditService,
		Notifier:    auth.NewLogNotifier(deps.logger, cfg.PublicBaseURL, !cfg.Production()),
		Logger:      deps.logger,
		Metrics:     deps.metrics,
	})

	limiter, err := ratelimit.NewLimiter(deps.rateStore, map[ratelimit.Category]ratelimit.Rule{
		ratelimit.CategoryLogin:             rule(cfg.RateLimits.Login),
		ratelimit.CategoryEmailVerification: rule(cfg.RateLimits.EmailVerification),
		ratelimit.CategoryPasswordReset:     rule(cfg.RateLimits.PasswordReset),
		ratelimit.CategoryTokenRefresh:      rule(cfg.RateLimits.Refresh),
	}, deps.logger, ratelimit.WithMetrics(deps.metrics))
	if err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	cookies := auth.NewCookieTransport(cfg.Production(), cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)

	return &components{
		logger:       deps.logger,
		metrics:      deps.metrics,
		gatherer:     deps.gatherer,
		health:       deps.health,
		authService:  authService,
		auditService: auditService,
		authHandler:  auth.NewHandler(authService, cookies, limiter, auditService, deps.logger),
		auditHandler: audit.NewHandler(auditService, deps.logger),
		cleanup: maintenance.NewCleanupHandler(
			deps.pruner,
			deps.sweeper,
			deps.logger,
			cfg.CronSecret,
			cfg.RateLimitRetention,
			cfg.CleanupBatchSize,
		),
		limiter: limiter,
		guard:   guard.New(guard.DefaultRoutes(), tokens, auditService, deps.logger, guard.WithSecureCookies(cfg.Production())),
	}, nil
}

func rule(w config.Window) ratelimit.Rule {
	return ratelimit.Rule{Limit: w.Max, Window: w.Window}
}
