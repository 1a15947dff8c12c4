package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/smartplan/smartplan/cmd/bomctl/cli"
	"github.com/smartplan/smartplan/internal/app"
	"github.com/smartplan/smartplan/internal/bom/export"
	"github.com/smartplan/smartplan/internal/platform/cache"
	"github.com/smartplan/smartplan/internal/platform/db"
	"github.com/smartplan/smartplan/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.LogFormat = "text"
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	services := cli.Services{Export: export.Options{Currency: cfg.Currency()}}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logger.Warn("redis unavailable, job commands disabled", slog.Any("error", err))
	} else {
		defer redisClient.Close()

		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			return err
		}
		defer client.Close()
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()

		services.Jobs = client
		services.Inspector = inspector
	}

	publisher, drain, err := app.ConnectEvents(cfg, logger)
	if err != nil {
		return err
	}
	defer drain()

	engine := app.NewEngine(cfg, app.EngineDeps{
		Pool:   pool,
		Redis:  redisClient,
		Events: publisher,
		Logger: logger,
	})
	services.BOM = engine.BOM

	cli.SetServices(services)
	return cli.Execute(ctx)
}
