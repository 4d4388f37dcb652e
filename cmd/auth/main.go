package main

import (
	"context"
	"fmt"
	"os"

	"github.com/AlibekovAA/authcore/internal/auth/blacklist"
	authcleanup "github.com/AlibekovAA/authcore/internal/auth/cleanup"
	authdomain "github.com/AlibekovAA/authcore/internal/auth/domain"
	authhttp "github.com/AlibekovAA/authcore/internal/auth/http"
	"github.com/AlibekovAA/authcore/internal/auth/lockout"
	authrepo "github.com/AlibekovAA/authcore/internal/auth/repository"
	"github.com/AlibekovAA/authcore/internal/auth/rotation"
	"github.com/AlibekovAA/authcore/internal/auth/service"
	"github.com/AlibekovAA/authcore/internal/auth/token"
	"github.com/AlibekovAA/authcore/internal/common/bootstrap"
	"github.com/AlibekovAA/authcore/internal/common/clock"
	"github.com/AlibekovAA/authcore/internal/common/config"
	"github.com/AlibekovAA/authcore/internal/common/constants"
	commoncrypto "github.com/AlibekovAA/authcore/internal/common/crypto"
	commonhttp "github.com/AlibekovAA/authcore/internal/common/http"
	"github.com/AlibekovAA/authcore/internal/common/logger"
	"github.com/AlibekovAA/authcore/internal/common/resilience"
	srv "github.com/AlibekovAA/authcore/internal/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.NewAuthApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start auth service: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	log := app.Log
	cfg := app.Config
	clk := clock.NewRealClock()
	ids := commoncrypto.NewUUIDGenerator()

	issuer, err := token.NewIssuer(token.Config{
		Internal: token.RealmConfig{Secret: cfg.InternalSecret, AccessTTL: cfg.InternalAccessTTL, RefreshTTL: cfg.InternalRefreshTTL},
		External: token.RealmConfig{Secret: cfg.ExternalSecret, AccessTTL: cfg.ExternalAccessTTL, RefreshTTL: cfg.ExternalRefreshTTL},
	}, ids, clk)
	if err != nil {
		log.Fatalf("failed to configure token issuer: %v", err)
	}

	var refreshRepo authrepo.RefreshTokenRepository
	switch cfg.RefreshStore {
	case config.StoreMemory:
		refreshRepo = authrepo.NewMemoryRefreshTokenRepository()
	default:
		refreshRepo = authrepo.NewPgRefreshTokenRepository(app.Pool)
	}

	var attemptStore lockout.AttemptStore
	switch cfg.LockoutStore {
	case config.StoreRedis:
		attemptStore = lockout.NewRedisAttemptStore(app.Redis)
	default:
		attemptStore = lockout.NewMemoryAttemptStore()
	}

	var denylist blacklist.Denylist
	switch cfg.BlacklistStore {
	case config.StoreRedis:
		denylist = blacklist.NewRedisDenylist(app.Redis)
	case config.StorePostgres:
		denylist = blacklist.NewPgDenylist(app.Pool)
	default:
		denylist = blacklist.NewMemoryDenylist()
	}

	log.WithFields(ctx, logger.Fields{
		"refresh_store":             cfg.RefreshStore,
		"lockout_store":             cfg.LockoutStore,
		"blacklist_store":           cfg.BlacklistStore,
		"external_refresh_strategy": cfg.ExternalRefreshStrategy,
		"action":                    "auth_stores_selected",
	}).Info("auth stores configured")

	engine := rotation.NewEngine(
		refreshRepo,
		issuer,
		commoncrypto.NewRandomSecretGenerator(),
		ids,
		newBreaker("refresh_token_store", log),
		clk,
		log,
	)
	guard := lockout.NewGuard(attemptStore, lockout.Config{
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		LockDuration:      cfg.LockDuration,
		AttemptWindow:     cfg.AttemptWindow,
	}, clk, log)
	tokenBlacklist := blacklist.New(denylist, newBreaker("token_blacklist", log), clk, log)
	principals := authrepo.NewPgPrincipalRepository(app.Pool)

	var externalStrategy service.RefreshStrategy
	if cfg.ExternalRefreshStrategy == config.RefreshStrategySigned {
		externalStrategy = service.NewSignedStrategy(issuer, tokenBlacklist, principals, authdomain.UserTypeExternal, log)
	} else {
		externalStrategy = service.NewRotatingStrategy(engine, principals, authdomain.UserTypeExternal, log)
	}

	deps := service.Deps{
		Principals: principals,
		Guard:      guard,
		Blacklist:  tokenBlacklist,
		Issuer:     issuer,
		Hasher:     commoncrypto.NewBcryptHasher(cfg.BcryptCost),
		Clock:      clk,
		Log:        log,
	}
	internalDeps := deps
	internalDeps.Strategy = service.NewRotatingStrategy(engine, principals, authdomain.UserTypeInternal, log)
	externalDeps := deps
	externalDeps.Strategy = externalStrategy

	internalAuth := service.NewAuthService(authdomain.UserTypeInternal, internalDeps)
	externalAuth := service.NewAuthService(authdomain.UserTypeExternal, externalDeps)

	for _, svc := range []*service.AuthService{internalAuth, externalAuth} {
		log.WithFields(ctx, logger.Fields{
			"realm":            string(svc.Realm()),
			"refresh_strategy": svc.RefreshStrategyName(),
			"action":           "auth_realm_ready",
		}).Info("auth realm ready")
	}

	scheduler := authcleanup.NewScheduler(log)
	jobs := []authcleanup.Job{
		authcleanup.BlacklistJob(tokenBlacklist, cfg.BlacklistSweepInterval),
		authcleanup.LoginAttemptJob(guard, cfg.AttemptSweepInterval),
		authcleanup.RefreshTokenJob(engine, cfg.RefreshSweepInterval),
	}
	for _, job := range jobs {
		if err := scheduler.Add(job); err != nil {
			log.Fatalf("failed to schedule cleanup: %v", err)
		}
	}
	scheduler.Start()

	if len(cfg.AdminUserIDs) == 0 {
		log.Warn("AUTH_ADMIN_USER_IDS is empty, admin routes will reject every caller")
	}

	healthChecks := map[string]commonhttp.HealthCheck{
		"postgres": func(ctx context.Context) error { return app.Pool.Ping(ctx) },
	}
	if app.Redis != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }
	}

	handler := authhttp.NewHandler(internalAuth, externalAuth, authhttp.Config{
		RequestTimeout: cfg.RequestTimeout,
		HealthChecks:   healthChecks,
		AdminUserIDs:   cfg.AdminUserIDs,
	}, log)

	serverConfig := srv.DefaultServerConfig(cfg.HTTPPort)
	server := srv.NewServer(serverConfig, handler)

	srv.Run(server, serverConfig, log, "auth",
		func(ctx context.Context) error {
			log.Infof("auth service: stopping cleanup scheduler")
			scheduler.Stop(ctx)
			return nil
		},
		func(context.Context) error {
			cancel()
			return nil
		},
	)
}

func newBreaker(name string, log *logger.Logger) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Threshold:  constants.DefaultCircuitBreakerThreshold,
		Timeout:    constants.DefaultCircuitBreakerTimeout,
		ResetAfter: constants.DefaultCircuitBreakerReset,
		Name:       name,
		Logger:     log,
	})
}

