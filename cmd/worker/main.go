package main

import (
	"context"
	"log/slog"
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
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
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

	bomRepo := bom.NewRepository(pool)
	serviceEngine := bom.NewServiceEngine(catalogRepo, logger)
	calculator := bom.NewCalculator(catalogRepo, shapeEvaluator, catalogRepo, serviceEngine, logger)
	codeGen := bom.NewCodeGenerator(bomRepo, logger)
	bomService := bom.NewService(bomRepo, calculator, codeGen, costConfigService, recalcLocker, auditLogger, logger)

	idempotencyStore := shared.NewIdempotencyStore(pool)
	recalculator := jobs.NewRecalculator(bomService, idempotencyStore, logger)

	sweepTask, err := jobs.NewBOMRecalcAllTask(time.Now())
	if err != nil {
		logger.Error("build recalc-all task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBOMRecalc, Handler: recalculator.HandleRecalc},
			{Type: jobs.TaskBOMRecalcAll, Handler: recalculator.HandleRecalcAll},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 1 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
