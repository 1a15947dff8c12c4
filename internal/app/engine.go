package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/smartplan/smartplan/internal/bom"
	"github.com/smartplan/smartplan/internal/catalog"
	"github.com/smartplan/smartplan/internal/events"
	"github.com/smartplan/smartplan/internal/placements"
	"github.com/smartplan/smartplan/internal/platform/lock"
	"github.com/smartplan/smartplan/internal/shared"
)

// EngineDeps are the runtime resources the BOM engine is built on. Redis and
// Registerer are optional.
type EngineDeps struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Events     bom.EventPublisher
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Engine bundles the BOM service with the placement store it reads.
type Engine struct {
	BOM        *bom.Service
	Placements *placements.Repository
}

// NewEngine wires the Postgres adapters, the optional Redis lock and the event
// publisher into a BOM service.
func NewEngine(cfg *Config, deps EngineDeps) Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	placementRepo := placements.NewRepository(deps.Pool)

	svcCfg := bom.ServiceConfig{
		Metrics: bom.NewMetrics(deps.Registerer),
		Audit:   shared.NewAuditLogger(deps.Pool),
		Events:  deps.Events,
		Logger:  logger,
	}
	if cfg.BOMLockEnabled && deps.Redis != nil {
		svcCfg.Locker = lock.NewRedisLocker(deps.Redis, lock.Options{TTL: cfg.BOMLockTTL})
	}
	service := bom.NewService(bom.NewRepository(deps.Pool), catalog.NewRepository(deps.Pool), placementRepo, svcCfg)
	return Engine{BOM: service, Placements: placementRepo}
}

// ConnectEvents returns the NATS publisher configured by NATS_URL, or a no-op
// publisher when it is unset. The returned func drains the connection.
func ConnectEvents(cfg *Config, logger *slog.Logger) (bom.EventPublisher, func(), error) {
	if cfg.NATSURL == "" || InTestMode() {
		return events.Nop{}, func() {}, nil
	}
	publisher, nc, err := events.Connect(events.Options{
		URL:           cfg.NATSURL,
		Name:          "smartplan",
		SubjectPrefix: cfg.NATSSubjectPrefix,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return publisher, func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("nats drain", slog.Any("error", err))
		}
	}, nil
}
