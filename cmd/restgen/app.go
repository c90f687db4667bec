package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"restgen.dev/internal/audit"
	"restgen.dev/internal/auth"
	"restgen.dev/internal/config"
	"restgen.dev/internal/engine"
	"restgen.dev/internal/httpapi"
	"restgen.dev/internal/nested"
	"restgen.dev/internal/obs"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
	"restgen.dev/internal/store/memory"
	"restgen.dev/internal/store/pg"
	"restgen.dev/internal/tenant"
)

// backend is a store that can also be seeded.
type backend interface {
	store.Store
	Writer() store.DirectoryWriter
}

// app is the wired service: registry, store, engine and HTTP layer.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   backend
	api     *httpapi.API
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close", zap.Error(err))
		}
	}
}

func openBackend(cfg config.DatabaseConfig) (backend, func() error, error) {
	if cfg.Driver != "postgres" {
		return memory.New(), func() error { return nil }, nil
	}
	st, err := pg.Open(cfg.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return st, st.Close, nil
}

func seedFile(ctx context.Context, w store.DirectoryWriter, path string) (store.SeedSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.SeedSummary{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return store.Seed(ctx, w, f)
}

func newLimiter(cfg config.RateLimitConfig) (httpapi.Limiter, func() error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return httpapi.NewRedisLimiter(client, cfg.Burst, cfg.PerSecond, cfg.Window), client.Close
	case "memory":
		return httpapi.NewMemoryLimiter(cfg.Burst, cfg.PerSecond), nil
	default:
		return nil, nil
	}
}

// build wires every component from cfg. The in-memory store is seeded from
// cfg.SeedFile; Postgres is seeded by "migrate seed".
func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	reg, err := registry.LoadFile(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}

	st, closeStore, err := openBackend(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, closeStore)

	if cfg.SeedFile != "" && cfg.Database.Driver == "memory" {
		sum, err := seedFile(ctx, st.Writer(), cfg.SeedFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		log.Info("directory seeded",
			zap.Int("organizations", sum.Organizations),
			zap.Int("roles", sum.Roles),
			zap.Int("users", sum.Users),
			zap.Int("assignments", sum.Assignments),
		)
	}

	issuer, err := auth.NewTokenIssuer(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	authSvc := auth.NewService(st.Directory(), issuer)
	authz := auth.NewAuthorizer(auth.WithDenialHook(func(resource string, action registry.Action) {
		obs.AuthorizationDenied(resource, string(action))
	}))

	nestedCfg := nested.Config{
		MaxOperations: cfg.Nested.MaxOperations,
		AllowedModels: cfg.Nested.AllowedModels,
	}
	eng := engine.New(reg, st, authz, nestedCfg,
		engine.WithLogger(log),
		engine.WithRecorder(audit.NewRecorder(audit.WithLogger(log))),
	)

	opts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithAuth(authSvc, authSvc),
	}
	if cfg.Tenancy.Enabled {
		resolver, err := tenant.NewResolver(st.Directory(), tenant.Config{
			Strategy:   tenant.Strategy(cfg.Tenancy.Strategy),
			Identifier: tenant.Identifier(cfg.Tenancy.Identifier),
			BaseDomain: cfg.Tenancy.BaseDomain,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, httpapi.WithTenancy(resolver))
	}
	if limiter, closeLimiter := newLimiter(cfg.RateLimit); limiter != nil {
		opts = append(opts, httpapi.WithLimiter(limiter))
		if closeLimiter != nil {
			a.closers = append(a.closers, closeLimiter)
		}
	}

	apiCfg := httpapi.Config{
		Prefix:         cfg.Server.APIPrefix,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        obs.ResolveBuildInfo(version, commit).Version,
	}
	if cfg.Nested.Enabled {
		apiCfg.NestedPath = cfg.Nested.Path
	}
	a.api, err = httpapi.New(eng, apiCfg, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
