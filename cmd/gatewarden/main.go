package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
	achttp "github.com/gatewarden/gatewarden/internal/accesscontrol/http"
	"github.com/gatewarden/gatewarden/internal/app"
	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/observability"
	"github.com/gatewarden/gatewarden/internal/platform/cache"
	"github.com/gatewarden/gatewarden/internal/platform/db"
	"github.com/gatewarden/gatewarden/internal/sandbox"
	"github.com/gatewarden/gatewarden/internal/shared"
	"github.com/gatewarden/gatewarden/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	aclRepo := accesscontrol.NewRepository(pool)
	registry := accesscontrol.NewRegistry(aclRepo)
	engine := accesscontrol.New(accesscontrol.Params{
		Policies:  aclRepo,
		Hierarchy: aclRepo,
		Registry:  aclRepo,
		Logs:      aclRepo,
		Resolver:  accesscontrol.NewResolver(aclRepo, cfg.MaxHierarchyDepth),
		Recorder:  accesscontrol.NewRecorder(aclRepo, queue, logger),
		Cache:     accesscontrol.NewDecisionCache(redisClient, cfg.DecisionCacheTTL),
		Metrics:   metrics,
		Logger:    logger,
	})

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(authService, sessionManager, logger)
	authMiddleware := auth.Middleware{Service: authService, Logger: logger}

	accessHandler := achttp.NewHandler(engine, registry, logger)

	itemsRepo := sandbox.NewPGRepository(pool)
	itemsService := sandbox.NewService(itemsRepo, engine)
	itemsHandler := sandbox.NewHandler(itemsService, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		AuthMiddleware: authMiddleware,
		AuthHandler:    authHandler,
		AccessHandler:  accessHandler,
		ItemsHandler:   itemsHandler,
		Metrics:        metrics,
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
