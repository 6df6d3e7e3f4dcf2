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

	"github.com/fabrica-erp/fabrica/internal/app"
	"github.com/fabrica-erp/fabrica/internal/bom"
	"github.com/fabrica-erp/fabrica/internal/catalog"
	"github.com/fabrica-erp/fabrica/internal/costconfig"
	"github.com/fabrica-erp/fabrica/internal/platform/cache"
	"github.com/fabrica-erp/fabrica/internal/platform/db"
	"github.com/fabrica-erp/fabrica/internal/shared"
	"github.com/fabrica-erp/fabrica/jobs"
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

	auditLogger := shared.NewAuditLogger(pool)
	recalcLocker := shared.NewRedisLocker(redisClient, 30*time.Second, logger)

	catalogRepo := catalog.NewRepository(pool)
	shapeEvaluator := catalog.NewEvaluator(catalogRepo)

	costConfigRepo := costconfig.NewRepository(pool)
	costConfigService := costconfig.NewService(costConfigRepo)
	costConfigHandler := costconfig.NewHandler(logger, costConfigService)

	bomRepo := bom.NewRepository(pool)
	serviceEngine := bom.NewServiceEngine(catalogRepo, logger)
	calculator := bom.NewCalculator(catalogRepo, shapeEvaluator, catalogRepo, serviceEngine, logger)
	codeGen := bom.NewCodeGenerator(bomRepo, logger)
	bomService := bom.NewService(bomRepo, calculator, codeGen, costConfigService, recalcLocker, auditLogger, logger)
	bomHandler := bom.NewHandler(logger, bomService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		BOMHandler:        bomHandler,
		CostConfigHandler: costConfigHandler,
		JobHandler:        jobHandler,
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
