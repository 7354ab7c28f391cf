package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/KantanPro/ktp-ledger/internal/app"
	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/ledger/export"
	"github.com/KantanPro/ktp-ledger/internal/ledger/items"
	"github.com/KantanPro/ktp-ledger/internal/observability"
	"github.com/KantanPro/ktp-ledger/internal/platform/cache"
	"github.com/KantanPro/ktp-ledger/internal/platform/db"
	"github.com/KantanPro/ktp-ledger/internal/shared"
	"github.com/KantanPro/ktp-ledger/internal/suppliers"
	"github.com/KantanPro/ktp-ledger/jobs"
	"github.com/KantanPro/ktp-ledger/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()

	supplierCache := suppliers.NewCache(redisClient, cfg.SupplierCacheTTL)
	if err := supplierCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("supplier cache invalidation listener", slog.Any("error", err))
	}
	supplierService := suppliers.NewService(suppliers.NewRepository(dbpool), supplierCache, logger)
	supplierService.SetBatchWait(cfg.SupplierBatchWait)

	redisOpts, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("redis options", slog.Any("error", err))
		os.Exit(1)
	}
	jobClient, err := jobs.NewClient(redisOpts, cfg.TotalsUniqueWindow, logger)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	ledgerService := items.NewService(items.ServiceParams{
		Repo:      items.NewRepository(dbpool),
		Keys:      shared.NewIdempotencyStore(dbpool),
		Locker:    shared.NewLocker(redislock.New(redisClient), cfg.ReorderLockTTL, cfg.ReorderLockWait),
		Scheduler: jobClient,
		Aggregator: ledger.NewAggregator(nil, logger, ledger.AggregatorConfig{
			LookupTimeout: cfg.LedgerLookupTimeout,
			LookupWorkers: cfg.LedgerLookupWorkers,
		}),
		Resolvers: func() ledger.ProfileResolver { return supplierService.NewResolver() },
		Logger:    logger,
	})

	reportClient := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	exporter := export.NewService(reportClient, logger)
	ledgerHandler := items.NewHandler(logger, ledgerService, supplierService, exporter)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Nonces:        shared.NewNonceManager(cfg.NonceSecret, cfg.NonceTTL),
		LedgerHandler: ledgerHandler,
		ReportHandler: report.NewHandler(reportClient, logger),
		JobHandler:    jobs.NewHandler(inspector, logger),
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
