package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartplan/smartplan/internal/bom"
	"github.com/smartplan/smartplan/internal/bom/export"
)

var (
	viewJSON       bool
	viewOrphaned   bool
	reconcileDry   bool
	reconcileJSON  bool
	exportOutput   string
	errNoBOMEngine = errors.New("bom service not configured")
)

var viewCmd = &cobra.Command{
	Use:   "view [floorplan-id]",
	Short: "Print the BOM of a floorplan",
	Args:  cobra.ExactArgs(1),
	RunE:  runView,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [floorplan-id]",
	Short: "Refresh BOM snapshots from the live catalog",
	Long: `Compares every BOM entry of the floorplan with the live catalog.
Changed prices are written back unless --dry-run is given; entries whose
variant or item is gone or inactive are reported and left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

var exportCmd = &cobra.Command{
	Use:   "export [floorplan-id]",
	Short: "Write the BOM of a floorplan to an Excel workbook",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	viewCmd.Flags().BoolVar(&viewJSON, "json", false, "output the view as JSON")
	viewCmd.Flags().BoolVar(&viewOrphaned, "orphaned", false, "include entries without placements")
	reconcileCmd.Flags().BoolVar(&reconcileDry, "dry-run", false, "report changes without writing them")
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "output the report as JSON")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default BOM_floorplan_<id>.xlsx)")
	rootCmd.AddCommand(viewCmd, reconcileCmd, exportCmd)
}

func runView(cmd *cobra.Command, args []string) error {
	floorplanID, err := parseFloorplanID(args[0])
	if err != nil {
		return err
	}
	if bomService == nil {
		return errNoBOMEngine
	}
	view, err := bomService.BuildView(commandContext(cmd), floorplanID)
	if err != nil {
		return fmt.Errorf("build view: %w", err)
	}
	if !viewOrphaned {
		view.Orphaned = nil
	}
	if viewJSON {
		return printJSON(cmd, view)
	}

	if len(view.Groups) == 0 {
		cmd.Printf("Floorplan %d has no placed items.\n", floorplanID)
		return nil
	}
	cmd.Printf("Floorplan %d\n\n", floorplanID)
	for _, g := range view.Groups {
		printGroup(cmd, g)
	}
	if len(view.Orphaned) > 0 {
		cmd.Println("Without placements:")
		for _, g := range view.Orphaned {
			cmd.Printf("  - %s (entry %d)\n", g.Main.Snapshot.Name, g.Main.ID)
		}
		cmd.Println()
	}
	cmd.Printf("Total: %s\n", export.FormatAmount(view.TotalPrice, exportOptions))
	return nil
}

func printGroup(cmd *cobra.Command, g bom.Group) {
	cmd.Printf("  %d x %s", g.Quantity, g.Main.Snapshot.Name)
	if g.Main.Snapshot.ModelNumber != "" {
		cmd.Printf(" [%s]", g.Main.Snapshot.ModelNumber)
	}
	cmd.Printf("  %s each, %s\n",
		export.FormatAmount(g.UnitPrice, exportOptions),
		export.FormatAmount(g.TotalPrice, exportOptions))
	for _, child := range g.Children {
		cmd.Printf("      + %s  %s\n", child.Snapshot.Name, export.FormatAmount(child.Snapshot.Price, exportOptions))
	}
}

func runReconcile(cmd *cobra.Command, args []string) error {
	floorplanID, err := parseFloorplanID(args[0])
	if err != nil {
		return err
	}
	if bomService == nil {
		return errNoBOMEngine
	}
	ctx := commandContext(cmd)
	var report bom.ChangeReport
	if reconcileDry {
		report, err = bomService.PreviewFromCatalog(ctx, floorplanID)
	} else {
		report, err = bomService.UpdateFromCatalog(ctx, floorplanID)
	}
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if reconcileJSON {
		return printJSON(cmd, report)
	}

	mode := "applied"
	if report.DryRun {
		mode = "dry run"
	}
	cmd.Printf("Reconciliation %s (%s)\n", report.RunID, mode)
	for _, u := range report.Updated {
		cmd.Printf("  updated %-30s %s -> %s\n", u.Name,
			export.FormatAmount(u.OldPrice, exportOptions),
			export.FormatAmount(u.NewPrice, exportOptions))
	}
	for _, inv := range report.Invalid {
		cmd.Printf("  invalid %-30s %s\n", inv.Name, inv.Reason)
	}
	if len(report.Updated) == 0 && len(report.Invalid) == 0 {
		cmd.Println("  BOM is in line with the catalog.")
	}
	cmd.Printf("Total: %s -> %s\n",
		export.FormatAmount(report.TotalBefore, exportOptions),
		export.FormatAmount(report.TotalAfter, exportOptions))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	floorplanID, err := parseFloorplanID(args[0])
	if err != nil {
		return err
	}
	if bomService == nil {
		return errNoBOMEngine
	}
	view, err := bomService.BuildView(commandContext(cmd), floorplanID)
	if err != nil {
		return fmt.Errorf("build view: %w", err)
	}
	path := exportOutput
	if path == "" {
		path = export.Filename(floorplanID)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := export.Write(f, view, exportOptions); err != nil {
		_ = f.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
