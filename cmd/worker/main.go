package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/smartplan/smartplan/internal/app"
	jobmetrics "github.com/smartplan/smartplan/internal/jobs"
	"github.com/smartplan/smartplan/internal/platform/cache"
	"github.com/smartplan/smartplan/internal/platform/db"
	"github.com/smartplan/smartplan/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	publisher, drain, err := app.ConnectEvents(cfg, logger)
	if err != nil {
		logger.Error("connect nats", slog.Any("error", err))
		os.Exit(1)
	}
	defer drain()

	engine := app.NewEngine(cfg, app.EngineDeps{
		Pool:   pool,
		Redis:  redisClient,
		Events: publisher,
		Logger: logger,
	})
	metrics := jobmetrics.NewMetrics(nil)

	reconcileJob := jobs.NewReconcileJob(engine.BOM, logger, metrics)
	driftJob := jobs.NewDriftScanJob(engine.BOM, logger, metrics)

	driftTask, err := jobs.NewDriftScanTask(jobs.DriftScanPayload{})
	if err != nil {
		logger.Error("build drift scan task", slog.Any("error", err))
		os.Exit(1)
	}

	var cron []jobs.CronRegistration
	if cfg.DriftScanCron != "" {
		cron = append(cron, jobs.CronRegistration{Spec: cfg.DriftScanCron, Task: driftTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBOMReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskBOMDriftScan, Handler: driftJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("drift_scan_cron", cfg.DriftScanCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
