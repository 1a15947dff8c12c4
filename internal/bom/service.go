package bom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/smartplan/smartplan/internal/shared"
)

// ServiceConfig carries the optional collaborators of a Service.
type ServiceConfig struct {
	Locker  Locker
	Metrics *Metrics
	Audit   AuditPort
	Events  EventPublisher
	Logger  *slog.Logger
}

// Service is the entry point of the BOM engine used by transports and jobs.
type Service struct {
	repo       Repository
	catalog    CatalogPort
	builder    *Builder
	aggregator *Aggregator
	reconciler *Reconciler
	metrics    *Metrics
	audit      AuditPort
	events     EventPublisher
	logger     *slog.Logger
}

// NewService wires the builder, aggregator and reconciler over shared ports.
func NewService(repo Repository, catalog CatalogPort, placements PlacementPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		catalog: catalog,
		builder: NewBuilder(repo, catalog, BuilderOptions{
			Locker:  cfg.Locker,
			Events:  cfg.Events,
			Logger:  logger,
			Metrics: cfg.Metrics,
		}),
		aggregator: NewAggregator(repo, placements),
		reconciler: NewReconciler(repo, catalog, placements, logger),
		metrics:    cfg.Metrics,
		audit:      cfg.Audit,
		events:     cfg.Events,
		logger:     logger,
	}
}

// WithNow overrides the report clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.reconciler.now = now
	}
}

// MaterializeForPlacement returns the id of the main entry the placement
// should link to, creating it and its required addons on first use.
func (s *Service) MaterializeForPlacement(ctx context.Context, p Placement) (int64, error) {
	res, err := s.builder.Materialize(ctx, p)
	if err != nil {
		return 0, err
	}
	return res.EntryID, nil
}

// BuildView returns the grouped, priced BOM of a floorplan.
func (s *Service) BuildView(ctx context.Context, floorplanID int64) (View, error) {
	if floorplanID <= 0 {
		return View{}, fmt.Errorf("%w: floorplan required", ErrValidation)
	}
	return s.aggregator.BuildView(ctx, floorplanID)
}

// GetEntry loads a single entry, including zero-quantity ones.
func (s *Service) GetEntry(ctx context.Context, entryID int64) (Entry, error) {
	return s.repo.Get(ctx, entryID)
}

// ListFloorplanIDs lists floorplans that have at least one entry.
func (s *Service) ListFloorplanIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListFloorplanIDs(ctx)
}

// UpdateFromCatalog reconciles the floorplan against the live catalog and
// records the run.
func (s *Service) UpdateFromCatalog(ctx context.Context, floorplanID int64) (ChangeReport, error) {
	report, err := s.reconciler.UpdateFromCatalog(ctx, floorplanID)
	s.metrics.reconciled(report)
	if err != nil {
		// Entries refreshed before the failure stay committed.
		if len(report.Updated) > 0 {
			s.record(context.WithoutCancel(ctx), shared.AuditLog{
				Action:   "bom.reconcile",
				Entity:   "floorplan",
				EntityID: strconv.FormatInt(floorplanID, 10),
				Meta:     reconcileMeta(report, err),
			})
		}
		return report, err
	}
	s.record(ctx, shared.AuditLog{
		Action:   "bom.reconcile",
		Entity:   "floorplan",
		EntityID: strconv.FormatInt(floorplanID, 10),
		Meta:     reconcileMeta(report, nil),
	})
	s.publish(ctx, SubjectReconciled, report)
	return report, nil
}

// PreviewFromCatalog reports what UpdateFromCatalog would change without
// writing.
func (s *Service) PreviewFromCatalog(ctx context.Context, floorplanID int64) (ChangeReport, error) {
	return s.reconciler.PreviewFromCatalog(ctx, floorplanID)
}

// DeleteBomEntry removes an entry regardless of remaining placements. Deleting
// a main entry removes its children as well.
func (s *Service) DeleteBomEntry(ctx context.Context, floorplanID, entryID int64) error {
	var deleted Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		entry, err := repo.Get(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.FloorplanID != floorplanID {
			return fmt.Errorf("%w: entry %d not on floorplan %d", ErrNotFound, entryID, floorplanID)
		}
		if entry.IsMain() {
			if err := repo.DeleteChildren(ctx, entry.ID); err != nil {
				return err
			}
		}
		deleted = entry
		return repo.Delete(ctx, entry.ID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("bom entry deleted",
		slog.Int64("floorplan_id", floorplanID), slog.Int64("entry_id", entryID), slog.Bool("main", deleted.IsMain()))
	s.record(ctx, shared.AuditLog{
		Action:   "bom.entry.delete",
		Entity:   "bom_entry",
		EntityID: strconv.FormatInt(entryID, 10),
		Meta:     map[string]any{"floorplan_id": floorplanID, "variant_id": deleted.VariantID},
	})
	s.publish(ctx, SubjectEntryDeleted, EntryEvent{FloorplanID: floorplanID, EntryID: entryID, VariantID: deleted.VariantID})
	return nil
}

// ReleaseVariant deletes the main entry of a floorplan/variant pair once no
// placement references that variant any more. It reports whether an entry
// was removed. The entry row stays locked between the count and the delete,
// so a placement inserted concurrently either is counted or fails its
// foreign key check and re-materializes.
func (s *Service) ReleaseVariant(ctx context.Context, floorplanID, variantID int64) (bool, error) {
	var released Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		main, err := repo.LockMain(ctx, floorplanID, variantID)
		if err != nil {
			return err
		}
		n, err := repo.CountPlacements(ctx, floorplanID, variantID)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if err := repo.DeleteChildren(ctx, main.ID); err != nil {
			return err
		}
		if err := repo.Delete(ctx, main.ID); err != nil {
			return err
		}
		released = main
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bom: release variant %d: %w", variantID, err)
	}
	if released.ID == 0 {
		return false, nil
	}
	s.logger.Info("bom entry deleted",
		slog.Int64("floorplan_id", floorplanID), slog.Int64("entry_id", released.ID), slog.Bool("main", true))
	s.record(ctx, shared.AuditLog{
		Action:   "bom.entry.delete",
		Entity:   "bom_entry",
		EntityID: strconv.FormatInt(released.ID, 10),
		Meta:     map[string]any{"floorplan_id": floorplanID, "variant_id": variantID, "released": true},
	})
	s.publish(ctx, SubjectEntryDeleted, EntryEvent{FloorplanID: floorplanID, EntryID: released.ID, VariantID: variantID})
	return true, nil
}

// SwitchVariant points a main entry and its placements at another variant,
// refreshing the snapshot and re-expanding required addons.
func (s *Service) SwitchVariant(ctx context.Context, floorplanID, entryID, variantID int64) (Entry, error) {
	if variantID <= 0 {
		return Entry{}, fmt.Errorf("%w: variant required", ErrValidation)
	}
	entry, err := s.repo.Get(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if entry.FloorplanID != floorplanID {
		return Entry{}, fmt.Errorf("%w: entry %d not on floorplan %d", ErrNotFound, entryID, floorplanID)
	}
	if !entry.IsMain() {
		return Entry{}, fmt.Errorf("%w: only main entries can switch variant", ErrValidation)
	}
	if entry.VariantID == variantID {
		return entry, nil
	}
	if _, err := s.repo.FindMain(ctx, floorplanID, variantID); err == nil {
		return Entry{}, fmt.Errorf("%w: variant %d already has a main entry", ErrConflict, variantID)
	} else if !errors.Is(err, ErrNotFound) {
		return Entry{}, err
	}
	resolved, err := s.catalog.ResolveVariant(ctx, variantID)
	if err != nil {
		return Entry{}, classifyCatalogError(variantID, err)
	}

	snap := SnapshotFrom(resolved)
	var (
		children []int64
		moved    int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.Retarget(ctx, entry.ID, resolved.Item.ID, resolved.Variant.ID, snap); err != nil {
			return err
		}
		if err := repo.DeleteChildren(ctx, entry.ID); err != nil {
			return err
		}
		children = s.builder.expandRequiredAddons(ctx, repo, entry.ID, floorplanID, resolved.Item.ID)
		n, err := repo.ReassignPlacements(ctx, floorplanID, entry.VariantID, variantID, entry.ID)
		if err != nil {
			return fmt.Errorf("bom: reassign placements: %w", err)
		}
		moved = n
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.logger.Info("bom entry switched variant",
		slog.Int64("entry_id", entry.ID),
		slog.Int64("from_variant_id", entry.VariantID),
		slog.Int64("to_variant_id", variantID),
		slog.Int("children", len(children)),
		slog.Int64("placements", moved),
	)
	s.record(ctx, shared.AuditLog{
		Action:   "bom.entry.switch_variant",
		Entity:   "bom_entry",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Meta:     map[string]any{"floorplan_id": floorplanID, "from_variant_id": entry.VariantID, "to_variant_id": variantID},
	})
	return s.repo.Get(ctx, entry.ID)
}

func reconcileMeta(report ChangeReport, err error) map[string]any {
	meta := map[string]any{
		"run_id":  report.RunID,
		"updated": len(report.Updated),
		"invalid": len(report.Invalid),
	}
	if err != nil {
		meta["partial"] = true
		meta["error"] = err.Error()
	}
	return meta
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("bom audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, subject string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		s.logger.Warn("bom event publish failed", slog.String("subject", subject), slog.Any("error", err))
	}
}
