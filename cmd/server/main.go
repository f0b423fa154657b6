// Copyright 2026 The GridPanel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridpanel/gridpanel/internal/audit"
	"github.com/gridpanel/gridpanel/internal/authz"
	"github.com/gridpanel/gridpanel/internal/config"
	"github.com/gridpanel/gridpanel/internal/identity"
	"github.com/gridpanel/gridpanel/internal/observability/logger"
	"github.com/gridpanel/gridpanel/internal/observability/metrics"
	"github.com/gridpanel/gridpanel/internal/observability/tracing"
	"github.com/gridpanel/gridpanel/internal/ratelimit"
	"github.com/gridpanel/gridpanel/internal/rbac"
	"github.com/gridpanel/gridpanel/internal/session"
	"github.com/gridpanel/gridpanel/internal/store/postgres"
	transportHTTP "github.com/gridpanel/gridpanel/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		DisableOTel: !cfg.Observability.OTELEnabled,
	})

	// Phase: CLI Commands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "bootstrap":
			if err := runBootstrap(cfg); err != nil {
				slog.Error("bootstrap failed", logger.Error(err))
				os.Exit(1)
			}
			return
		case "migrate":
			if err := runMigrate(cfg); err != nil {
				slog.Error("migration failed", logger.Error(err))
				os.Exit(1)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q (expected bootstrap or migrate)\n", os.Args[1])
			os.Exit(2)
		}
	}

	if err := serve(cfg); err != nil {
		slog.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
}

func serve(cfg *config.Config) error {
	slog.Info("starting gridpanel dashboard")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer, continuing without tracing", logger.Error(err))
		tracer = tracing.NewNoop()
	}

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.MetricsEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		meter = metrics.NewNoop()
	}
	if cfg.Observability.MetricsEnabled && !meter.Exporting() {
		slog.Warn("metrics enabled but no exporting MeterProvider is installed; measurements are discarded")
	}
	instruments, err := metrics.NewAuthInstruments(meter)
	if err != nil {
		return fmt.Errorf("failed to create auth instruments: %w", err)
	}

	// Initialize database
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("connected to database")

	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if len(applied) > 0 {
		slog.Info("migrations applied", logger.Count(len(applied)))
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	// Audit pipeline
	sinks := audit.MultiSink{audit.NewSlogSink(slog.Default())}
	var auditLog transportHTTP.AuditLister
	if cfg.Audit.Persist {
		sinks = append(sinks, auditRepo)
		auditLog = auditRepo
	}
	emitter := audit.NewEmitter(sinks,
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
		audit.WithMeter(meter.GetMeter()),
	)

	// Login limiter
	limiter := ratelimit.New(ratelimit.Config{
		Window:          cfg.RateLimit.Window,
		MaxAttempts:     cfg.RateLimit.MaxAttempts,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	}, ratelimit.WithMeter(meter.GetMeter()))
	go limiter.Run(ctx)

	// Initialize services
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	identityService, err := identity.NewService(userRepo, passwordHasher, limiter, emitter,
		identity.WithTracer(tracer.GetTracer()),
		identity.WithMetrics(instruments),
	)
	if err != nil {
		return fmt.Errorf("failed to create identity service: %w", err)
	}

	// Run Bootstrap (ENV driven)
	if err := bootstrapAdmin(ctx, cfg, userRepo, passwordHasher); err != nil {
		return err
	}

	sessions, err := session.NewManager([]byte(cfg.Session.Secret), cfg.Session.Lifetime)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	engine, err := rbac.NewEngine(rbac.DefaultPermissions())
	if err != nil {
		return fmt.Errorf("invalid permission table: %w", err)
	}
	authorizer, err := authz.NewAuthorizer(routeRules(cfg.Routes), sessions, engine,
		authz.WithMetrics(instruments),
		authz.WithAudit(emitter),
	)
	if err != nil {
		return fmt.Errorf("invalid route configuration: %w", err)
	}

	// Request throttle
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go rateLimiter.Run(ctx)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(transportHTTP.Deps{
		Identity:   identityService,
		Sessions:   sessions,
		Authorizer: authorizer,
		Limiter:    limiter,
		Audit:      emitter,
		AuditLog:   auditLog,
		Health:     db,
		Metrics:    instruments,
	}, transportHTTP.SessionConfig{
		CookieName:     cfg.Session.CookieName,
		CookieDomain:   cfg.Session.CookieDomain,
		CookiePath:     cfg.Session.CookiePath,
		CookieSecure:   cfg.Session.CookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: sameSiteMode(cfg.Session.CookieSameSite),
		Lifetime:       cfg.Session.Lifetime,
	})

	router := transportHTTP.NewRouter(handler, rateLimiter, transportHTTP.RouterConfig{
		TrustProxy: cfg.Server.TrustProxy,
		HSTS:       cfg.Security.HSTS,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"),
			logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		slog.Error("audit emitter did not drain", logger.Error(err))
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		slog.Error("tracer shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	db, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func bootstrapAdmin(ctx context.Context, cfg *config.Config, repo identity.UserRepository, hasher *identity.PasswordHasher) error {
	svc := identity.NewBootstrapService(repo, hasher, slog.Default())
	err := svc.Bootstrap(ctx, identity.BootstrapConfig{
		Email:    cfg.Bootstrap.AdminEmail,
		Password: cfg.Bootstrap.AdminPassword,
	})
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	return nil
}

// routeRules starts from the built-in route classes and replaces each class
// that the configuration overrides.
func routeRules(cfg config.RoutesConfig) authz.RouteRules {
	rules := authz.DefaultRouteRules()
	if len(cfg.Public) > 0 {
		rules.Public = cfg.Public
	}
	if len(cfg.AdminOnly) > 0 {
		rules.AdminOnly = cfg.AdminOnly
	}
	if len(cfg.OperatorOrAbove) > 0 {
		rules.OperatorOrAbove = cfg.OperatorOrAbove
	}
	return rules
}

func sameSiteMode(s string) http.SameSite {
	switch s {
	case "Strict":
		return http.SameSiteStrictMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func runBootstrap(cfg *config.Config) error {
	ctx := context.Background()
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	return bootstrapAdmin(ctx, cfg, postgres.NewUserRepository(db), passwordHasher)
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return err
	}
	slog.Info("migration successful", logger.Count(len(applied)))
	return nil
}
