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

	"github.com/agrilink/agrilink/internal/app"
	"github.com/agrilink/agrilink/internal/availability"
	"github.com/agrilink/agrilink/internal/cycle"
	"github.com/agrilink/agrilink/internal/farmer"
	"github.com/agrilink/agrilink/internal/ledger"
	"github.com/agrilink/agrilink/internal/observability"
	"github.com/agrilink/agrilink/internal/platform/cache"
	"github.com/agrilink/agrilink/internal/platform/db"
	"github.com/agrilink/agrilink/internal/shared"
	"github.com/agrilink/agrilink/jobs"
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
		logger.Warn("redis unavailable, running without cache", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	availabilityCache := availability.NewCache(redisClient, cfg.AvailabilityTTL)

	farmerRepo := farmer.NewRepository(pool)
	farmerService := farmer.NewService(farmerRepo, auditLogger)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, idempotencyStore, availabilityCache)

	intakeClient := cycle.NewIntakeClient(cfg.IntakeServiceURL)
	cycleRepo := cycle.NewRepository(pool)
	cycleService := cycle.NewService(cycleRepo, auditLogger, intakeClient, availabilityCache)

	availabilityRepo := availability.NewRepository(pool)
	availabilityService := availability.NewService(availabilityRepo, availabilityCache, cfg.LowStockLevel())

	metrics := observability.NewMetrics()

	farmerHandler := farmer.NewHandler(logger, farmerService, availabilityService)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)
	cycleHandler := cycle.NewHandler(logger, cycleService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		FarmerHandler: farmerHandler,
		LedgerHandler: ledgerHandler,
		CycleHandler:  cycleHandler,
		JobsHandler:   jobsHandler,
		Metrics:       metrics,
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
