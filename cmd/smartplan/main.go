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
	"github.com/redis/go-redis/v9"

	"github.com/smartplan/smartplan/internal/app"
	"github.com/smartplan/smartplan/internal/audit"
	audithttp "github.com/smartplan/smartplan/internal/audit/http"
	"github.com/smartplan/smartplan/internal/bom/export"
	bomhttp "github.com/smartplan/smartplan/internal/bom/http"
	"github.com/smartplan/smartplan/internal/observability"
	"github.com/smartplan/smartplan/internal/placements"
	"github.com/smartplan/smartplan/internal/platform/cache"
	"github.com/smartplan/smartplan/internal/platform/db"
	"github.com/smartplan/smartplan/internal/shared"
	"github.com/smartplan/smartplan/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}); err != nil {
		logger.Warn("redis unavailable, bom lock and job queue disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	publisher, drain, err := app.ConnectEvents(cfg, logger)
	if err != nil {
		logger.Error("connect nats", slog.Any("error", err))
		os.Exit(1)
	}
	defer drain()

	metrics := observability.NewMetrics()
	engine := app.NewEngine(cfg, app.EngineDeps{
		Pool:       dbpool,
		Redis:      redisClient,
		Events:     publisher,
		Registerer: metrics.Registerer(),
		Logger:     logger,
	})

	var (
		enqueuer   bomhttp.Enqueuer
		jobHandler *jobs.Handler
	)
	if redisClient != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		enqueuer = jobClient

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, logger)
	}

	bomHandler := bomhttp.NewHandler(logger, engine.BOM, enqueuer, export.Options{Currency: cfg.Currency()})
	placementService := placements.NewService(engine.Placements, engine.BOM, logger).
		WithIdempotency(shared.NewIdempotencyStore(dbpool))
	placementHandler := placements.NewHandler(logger, placementService)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)))

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		BOMHandler:       bomHandler,
		PlacementHandler: placementHandler,
		AuditHandler:     auditHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
