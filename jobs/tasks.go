package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/smartplan/smartplan/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBOMReconcile refreshes the snapshots of one floorplan's BOM.
	TaskBOMReconcile = "bom:reconcile"
	// TaskBOMDriftScan previews reconciliation for every floorplan without writing.
	TaskBOMDriftScan = "bom:drift_scan"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

var errInvalidFloorplan = errors.New("jobs: floorplan id must be positive")

// ReconcilePayload identifies the floorplan to reconcile.
type ReconcilePayload struct {
	FloorplanID int64 `json:"floorplan_id"`
}

// DriftScanPayload tunes a drift scan run. A zero Limit scans every floorplan.
type DriftScanPayload struct {
	Limit int `json:"limit,omitempty"`
}

// NewReconcileTask constructs a reconcile task for the floorplan.
func NewReconcileTask(floorplanID int64) (*asynq.Task, error) {
	if floorplanID <= 0 {
		return nil, errInvalidFloorplan
	}
	data, err := json.Marshal(ReconcilePayload{FloorplanID: floorplanID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBOMReconcile, data, asynq.MaxRetry(3)), nil
}

// NewDriftScanTask constructs a drift scan task.
func NewDriftScanTask(payload DriftScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBOMDriftScan, data, asynq.MaxRetry(1)), nil
}
