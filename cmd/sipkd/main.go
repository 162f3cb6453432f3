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
	"github.com/joho/godotenv"

	"github.com/sipkd-core/sipkd/internal/app"
	"github.com/sipkd-core/sipkd/internal/audit"
	"github.com/sipkd-core/sipkd/internal/platform/cache"
	"github.com/sipkd-core/sipkd/internal/platform/db"
	"github.com/sipkd-core/sipkd/internal/reporting"
	"github.com/sipkd-core/sipkd/internal/sequence"
	"github.com/sipkd-core/sipkd/internal/tagihan"
	"github.com/sipkd-core/sipkd/internal/tax"
	"github.com/sipkd-core/sipkd/jobs"
)

func main() {
	_ = godotenv.Load()

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

	// A missing Redis only degrades reporting; the cache layer is nil-safe.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, reporting cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	recorder := audit.NewRecorder()

	auditRepo := audit.NewPGRepository(pool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService)

	tagihanRepo := tagihan.NewRepository(pool, recorder)
	tagihanService := tagihan.NewService(tagihanRepo, logger, tagihan.ServiceConfig{FiscalYear: cfg.FiscalYear})
	tagihanHandler := tagihan.NewHandler(logger, tagihanService, auditService)

	taxRepo := tax.NewRepository(pool, recorder)
	taxService := tax.NewService(taxRepo, logger)
	taxHandler := tax.NewHandler(logger, taxService)

	reportCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL)
	if err := reportCache.ListenForInvalidation(ctx, ""); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}
	reportRepo := reporting.NewPGRepository(pool)
	reportService := reporting.NewService(reportRepo, reportCache)
	reportHandler := reporting.NewHandler(logger, reportService)

	allocator := sequence.NewAllocator(sequence.NewPGStore(pool))
	sequenceHandler := sequence.NewHandler(logger, allocator)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("job client init", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		TagihanHandler:   tagihanHandler,
		TaxHandler:       taxHandler,
		ReportingHandler: reportHandler,
		AuditHandler:     auditHandler,
		SequenceHandler:  sequenceHandler,
		JobHandler:       jobHandler,
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
