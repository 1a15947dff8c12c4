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

// Reconciler is the slice of the BOM service used by the reconcile job.
type Reconciler interface {
	UpdateFromCatalog(ctx context.Context, floorplanID int64) (bom.ChangeReport, error)
}

// ReconcileJob applies catalog changes to a floorplan's BOM snapshots.
type ReconcileJob struct {
	Service Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconcile handler.
func NewReconcileJob(service Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes a reconciliation run.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("bom reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.FloorplanID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskBOMReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger().With(slog.Int64("floorplan_id", payload.FloorplanID))
	logger.Info("starting bom reconcile")

	report, err := j.Service.UpdateFromCatalog(ctx, payload.FloorplanID)
	if err != nil {
		logger.Error("bom reconcile failed",
			slog.Int("updated", len(report.Updated)),
			slog.Any("error", err),
		)
		if errors.Is(err, bom.ErrValidation) || errors.Is(err, bom.ErrNotFound) {
			return errors.Join(err, asynq.SkipRetry)
		}
		return err
	}

	logger.Info("completed bom reconcile",
		slog.String("run_id", report.RunID),
		slog.Int("updated", len(report.Updated)),
		slog.Int("invalid", len(report.Invalid)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBOMReconcile))
	}
	return slog.Default().With(slog.String("job", TaskBOMReconcile))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
