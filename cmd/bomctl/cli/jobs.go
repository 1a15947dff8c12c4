package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartplan/smartplan/jobs"
)

var (
	driftLimit int
	statsJSON  bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Schedule and inspect background BOM jobs",
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Enqueue a background job",
}

var triggerReconcileCmd = &cobra.Command{
	Use:   "reconcile [floorplan-id]",
	Short: "Enqueue a reconciliation of one floorplan",
	Args:  cobra.ExactArgs(1),
	RunE:  runTriggerReconcile,
}

var triggerDriftCmd = &cobra.Command{
	Use:   "drift-scan",
	Short: "Enqueue a drift scan across all floorplans",
	Args:  cobra.NoArgs,
	RunE:  runTriggerDrift,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the state of the job queue",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	triggerDriftCmd.Flags().IntVar(&driftLimit, "limit", 0, "scan at most this many floorplans (0 scans all)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output stats as JSON")
	triggerCmd.AddCommand(triggerReconcileCmd, triggerDriftCmd)
	jobsCmd.AddCommand(triggerCmd, statsCmd)
	rootCmd.AddCommand(jobsCmd)
}

var errNoQueue = errors.New("job queue not configured")

func runTriggerReconcile(cmd *cobra.Command, args []string) error {
	floorplanID, err := parseFloorplanID(args[0])
	if err != nil {
		return err
	}
	if jobQueue == nil {
		return errNoQueue
	}
	id, err := jobQueue.EnqueueReconcile(commandContext(cmd), floorplanID)
	if err != nil {
		return fmt.Errorf("enqueue reconcile: %w", err)
	}
	cmd.Printf("Enqueued %s for floorplan %d: %s\n", jobs.TaskBOMReconcile, floorplanID, id)
	return nil
}

func runTriggerDrift(cmd *cobra.Command, args []string) error {
	if jobQueue == nil {
		return errNoQueue
	}
	if driftLimit < 0 {
		return errors.New("limit must not be negative")
	}
	id, err := jobQueue.EnqueueDriftScan(commandContext(cmd), jobs.DriftScanPayload{Limit: driftLimit})
	if err != nil {
		return fmt.Errorf("enqueue drift scan: %w", err)
	}
	cmd.Printf("Enqueued %s: %s\n", jobs.TaskBOMDriftScan, id)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	if queueInspect == nil {
		return errNoQueue
	}
	stats, err := jobs.ReadQueueStats(queueInspect)
	if err != nil {
		return fmt.Errorf("read queue stats: %w", err)
	}
	if statsJSON {
		return printJSON(cmd, stats)
	}
	cmd.Printf("Queue %s", stats.Queue)
	if stats.Paused {
		cmd.Print(" (paused)")
	}
	cmd.Println()
	cmd.Printf("  pending   %d\n", stats.Pending)
	cmd.Printf("  active    %d\n", stats.Active)
	cmd.Printf("  scheduled %d\n", stats.Scheduled)
	cmd.Printf("  retry     %d\n", stats.Retry)
	cmd.Printf("  archived  %d\n", stats.Archived)
	cmd.Printf("  today     %d processed, %d failed\n", stats.Processed, stats.Failed)
	return nil
}
