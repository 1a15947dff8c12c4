package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/smartplan/smartplan/internal/bom"
	jobmetrics "github.com/smartplan/smartplan/internal/jobs"
)

// DriftPreviewer is the slice of the BOM service used by the drift scan.
type DriftPreviewer interface {
	ListFloorplanIDs(ctx context.Context) ([]int64, error)
	PreviewFromCatalog(ctx context.Context, floorplanID int64) (bom.ChangeReport, error)
}

// DriftSummary aggregates the dry-run reports of one scan.
type DriftSummary struct {
	Scanned    int
	Failed     int
	Floorplans int
	Updated    int
	Invalid    int
}

// DriftScanJob compares every BOM against the live catalog without writing.
type DriftScanJob struct {
	Service DriftPreviewer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDriftScanJob initialises the drift scan handler.
func NewDriftScanJob(service DriftPreviewer, logger *slog.Logger, metrics *jobmetrics.Metrics) *DriftScanJob {
	return &DriftScanJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the drift scan.
func (j *DriftScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("bom drift scan: handler not configured")
	}
	var payload DriftScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskBOMDriftScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger()
	logger.Info("starting bom drift scan")

	summary, err := j.Scan(ctx, payload)
	if err != nil {
		logger.Error("drift scan failed", slog.Int("scanned", summary.Scanned), slog.Any("error", err))
		return err
	}
	j.metrics().SetDrift(summary.Updated, summary.Invalid, summary.Floorplans)

	logger.Info("completed bom drift scan",
		slog.Int("scanned", summary.Scanned),
		slog.Int("failed", summary.Failed),
		slog.Int("floorplans", summary.Floorplans),
		slog.Int("updated", summary.Updated),
		slog.Int("invalid", summary.Invalid),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Scan previews every floorplan. A floorplan whose preview fails is counted and
// skipped; cancellation aborts the scan.
func (j *DriftScanJob) Scan(ctx context.Context, payload DriftScanPayload) (DriftSummary, error) {
	var summary DriftSummary
	ids, err := j.Service.ListFloorplanIDs(ctx)
	if err != nil {
		return summary, err
	}
	if payload.Limit > 0 && len(ids) > payload.Limit {
		ids = ids[:payload.Limit]
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		report, err := j.Service.PreviewFromCatalog(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed++
			j.logger().Warn("drift preview failed", slog.Int64("floorplan_id", id), slog.Any("error", err))
			continue
		}
		summary.Scanned++
		if len(report.Updated) > 0 || len(report.Invalid) > 0 {
			summary.Floorplans++
		}
		summary.Updated += len(report.Updated)
		summary.Invalid += len(report.Invalid)
	}
	if summary.Failed > 0 && summary.Scanned == 0 {
		return summary, bom.ErrUpstreamUnavailable
	}
	return summary, nil
}

func (j *DriftScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBOMDriftScan))
	}
	return slog.Default().With(slog.String("job", TaskBOMDriftScan))
}

func (j *DriftScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
