package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/smartplan/smartplan/internal/bom"
	"github.com/smartplan/smartplan/internal/bom/export"
	"github.com/smartplan/smartplan/jobs"
)

// BOMService is the part of the BOM engine the CLI drives.
type BOMService interface {
	BuildView(ctx context.Context, floorplanID int64) (bom.View, error)
	UpdateFromCatalog(ctx context.Context, floorplanID int64) (bom.ChangeReport, error)
	PreviewFromCatalog(ctx context.Context, floorplanID int64) (bom.ChangeReport, error)
}

// JobQueue enqueues background BOM jobs.
type JobQueue interface {
	EnqueueReconcile(ctx context.Context, floorplanID int64) (string, error)
	EnqueueDriftScan(ctx context.Context, payload jobs.DriftScanPayload) (string, error)
}

// Services are the collaborators injected by main before Execute.
type Services struct {
	BOM       BOMService
	Jobs      JobQueue
	Inspector jobs.QueueInspector
	Export    export.Options
}

var (
	bomService    BOMService
	jobQueue      JobQueue
	queueInspect  jobs.QueueInspector
	exportOptions export.Options
)

var rootCmd = &cobra.Command{
	Use:   "bomctl",
	Short: "Inspect and reconcile floorplan bills of materials",
	Long: `bomctl works against the SmartPlan database and job queue.
It prints a floorplan's BOM, refreshes its snapshots from the live catalog,
exports it to Excel and schedules background jobs.`,
	SilenceUsage: true,
}

// SetServices installs the collaborators used by every command.
func SetServices(s Services) {
	bomService = s.BOM
	jobQueue = s.Jobs
	queueInspect = s.Inspector
	exportOptions = s.Export
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func parseFloorplanID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid floorplan id %q", arg)
	}
	return id, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
