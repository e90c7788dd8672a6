package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mehaotian/hshs-server-sub001/cmd/hshs/cli"
	"github.com/mehaotian/hshs-server-sub001/internal/app"
	"github.com/mehaotian/hshs-server-sub001/internal/observability"
	"github.com/mehaotian/hshs-server-sub001/internal/platform/cache"
	"github.com/mehaotian/hshs-server-sub001/internal/platform/db"
	"github.com/mehaotian/hshs-server-sub001/internal/rbac"
	"github.com/mehaotian/hshs-server-sub001/internal/rbac/migrate"
	"github.com/mehaotian/hshs-server-sub001/internal/shared"
	"github.com/mehaotian/hshs-server-sub001/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	migrateMode := flag.String("migrate", "", "run the legacy permission migration instead of the server (dry, execute, verify or rollback)")
	migrateRunID := flag.String("run-id", "", "migration run id for rollback")
	jsonOutput := flag.Bool("json", false, "emit migration output as JSON")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The resolver stays correct without Redis; a failed connection only
	// costs the memoization.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, permission cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	permCache := rbac.NewPermissionCache(redisClient, cfg.UserCacheTTL, cfg.RoleCacheTTL)
	rbacRepo := rbac.NewRepository(pool)

	if *migrateMode != "" {
		migrator := migrate.New(rbacRepo, permCache, logger)
		code := cli.NewMigrateCLI(migrator).Run(ctx, cli.MigrateOptions{
			Mode:       cli.MigrateMode(*migrateMode),
			RunID:      *migrateRunID,
			JSONOutput: *jsonOutput,
		})
		os.Exit(code)
	}

	metrics := observability.NewMetrics()
	if err := rbac.SetupMetrics(metrics.Registerer()); err != nil {
		logger.Warn("register rbac metrics", slog.Any("error", err))
	}

	auditLogger := shared.NewAuditLogger(pool)
	resolver := rbac.NewResolver(rbacRepo, permCache, auditLogger, logger)
	rbacService := rbac.NewService(rbacRepo, permCache, logger)
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, rbacService, resolver, rbacMiddleware)

	if err := rbac.SeedCatalog(ctx, rbacService, logger); err != nil {
		logger.Error("seed permission catalog", slog.Any("error", err))
		os.Exit(1)
	}

	userRepo := users.NewRepository(pool)
	userService := users.NewService(userRepo)
	userHandler := users.NewHandler(logger, userService, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		RBACHandler: rbacHandler,
		UserHandler: userHandler,
		Metrics:     metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
