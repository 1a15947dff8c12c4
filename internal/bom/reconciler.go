package bom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smartplan/smartplan/internal/catalog"
)

// Reconciler compares entry snapshots with the live catalog and applies price
// changes in place.
type Reconciler struct {
	repo       Repository
	catalog    CatalogPort
	placements PlacementPort
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(repo Repository, catalog CatalogPort, placements PlacementPort, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, catalog: catalog, placements: placements, logger: logger, now: time.Now}
}

// UpdateFromCatalog re-reads the catalog for every entry of the floorplan,
// rewrites the snapshot of entries whose price changed and reports entries
// that no longer resolve. Each update is committed on its own, so a
// cancelled run keeps the updates applied before cancellation.
func (r *Reconciler) UpdateFromCatalog(ctx context.Context, floorplanID int64) (ChangeReport, error) {
	return r.run(ctx, floorplanID, false)
}

// PreviewFromCatalog produces the same report as UpdateFromCatalog without
// writing anything.
func (r *Reconciler) PreviewFromCatalog(ctx context.Context, floorplanID int64) (ChangeReport, error) {
	return r.run(ctx, floorplanID, true)
}

func (r *Reconciler) run(ctx context.Context, floorplanID int64, dryRun bool) (ChangeReport, error) {
	if floorplanID <= 0 {
		return ChangeReport{}, fmt.Errorf("%w: floorplan required", ErrValidation)
	}
	entries, err := r.repo.ListByFloorplan(ctx, floorplanID)
	if err != nil {
		return ChangeReport{}, fmt.Errorf("bom: reconcile list entries: %w", err)
	}
	placements, err := r.placements.ListPlacements(ctx, floorplanID)
	if err != nil {
		return ChangeReport{}, fmt.Errorf("bom: reconcile list placements: %w", err)
	}

	report := ChangeReport{
		RunID:       uuid.NewString(),
		FloorplanID: floorplanID,
		DryRun:      dryRun,
		GeneratedAt: r.now().UTC(),
		Updated:     []PriceUpdate{},
		Invalid:     []InvalidReference{},
	}
	after := make([]Entry, len(entries))
	copy(after, entries)

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("bom: reconcile interrupted after %d of %d entries: %w", i, len(entries), err)
		}
		resolved, reason, err := r.check(ctx, entry)
		if err != nil {
			return report, err
		}
		if reason != "" {
			report.Invalid = append(report.Invalid, InvalidReference{EntryID: entry.ID, Name: entry.Snapshot.Name, Reason: reason})
			continue
		}
		if resolved.Variant.Price.Equal(entry.Snapshot.Price) {
			continue
		}
		snap := SnapshotFrom(resolved)
		if !dryRun {
			if err := r.repo.UpdateSnapshot(ctx, entry.ID, snap); err != nil {
				return report, fmt.Errorf("bom: reconcile update entry %d: %w", entry.ID, err)
			}
		}
		report.Updated = append(report.Updated, PriceUpdate{
			EntryID:  entry.ID,
			Name:     entry.Snapshot.Name,
			OldPrice: entry.Snapshot.Price,
			NewPrice: snap.Price,
		})
		after[i].Snapshot = snap
	}

	report.TotalBefore = Assemble(floorplanID, entries, placements).TotalPrice
	report.TotalAfter = Assemble(floorplanID, after, placements).TotalPrice

	r.logger.Info("bom reconciled",
		slog.String("run_id", report.RunID),
		slog.Int64("floorplan_id", floorplanID),
		slog.Bool("dry_run", dryRun),
		slog.Int("entries", len(entries)),
		slog.Int("updated", len(report.Updated)),
		slog.Int("invalid", len(report.Invalid)),
	)
	return report, nil
}

// check resolves the entry's variant and returns the first applicable invalid
// reason, in the order variant missing, item missing, variant inactive, item
// inactive. Catalog I/O failures abort the run.
func (r *Reconciler) check(ctx context.Context, entry Entry) (catalog.Resolved, InvalidReason, error) {
	resolved, err := r.catalog.ResolveVariant(ctx, entry.VariantID)
	switch {
	case errors.Is(err, catalog.ErrVariantNotFound):
		return catalog.Resolved{}, ReasonVariantNotFound, nil
	case errors.Is(err, catalog.ErrItemNotFound):
		return catalog.Resolved{}, ReasonItemNotFound, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return catalog.Resolved{}, "", fmt.Errorf("bom: reconcile interrupted at entry %d: %w", entry.ID, err)
	case err != nil:
		return catalog.Resolved{}, "", fmt.Errorf("%w: resolve variant %d: %w", ErrUpstreamUnavailable, entry.VariantID, err)
	}
	if !resolved.Variant.IsActive {
		return resolved, ReasonVariantInactive, nil
	}
	if !resolved.Item.IsActive {
		return resolved, ReasonItemInactive, nil
	}
	return resolved, "", nil
}
