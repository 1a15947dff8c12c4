package bom

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/smartplan/smartplan/internal/catalog"
	"github.com/smartplan/smartplan/internal/shared"
)

// Materialized describes the outcome of materializing a placement.
type Materialized struct {
	EntryID  int64
	Created  bool
	Children []int64
}

// Builder converts placements into persisted main entries and expands their
// required addons exactly once per main entry.
type Builder struct {
	repo    Repository
	catalog CatalogPort
	locker  Locker
	events  EventPublisher
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
	group   singleflight.Group
}

// DefaultSharedTimeout bounds a materialization shared by concurrent callers.
const DefaultSharedTimeout = 30 * time.Second

// BuilderOptions carries the optional collaborators of a Builder.
type BuilderOptions struct {
	Locker  Locker
	Events  EventPublisher
	Logger  *slog.Logger
	Metrics *Metrics
	// SharedTimeout bounds the shared materialization; zero means
	// DefaultSharedTimeout.
	SharedTimeout time.Duration
}

// NewBuilder constructs a Builder.
func NewBuilder(repo Repository, catalog CatalogPort, opts BuilderOptions) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.SharedTimeout
	if timeout <= 0 {
		timeout = DefaultSharedTimeout
	}
	return &Builder{
		repo:    repo,
		catalog: catalog,
		locker:  opts.Locker,
		events:  opts.Events,
		logger:  logger,
		metrics: opts.Metrics,
		timeout: timeout,
	}
}

// Materialize resolves or creates the main entry for the placement's
// floorplan/variant pair. Concurrent calls for the same pair within the
// process share one execution that is detached from any single caller's
// cancellation; across processes the optional lock and the unique index on
// main entries keep a single winner.
func (b *Builder) Materialize(ctx context.Context, p Placement) (Materialized, error) {
	if p.FloorplanID <= 0 || p.VariantID <= 0 {
		return Materialized{}, fmt.Errorf("%w: floorplan and variant required", ErrValidation)
	}
	key := shared.MainEntryLockKey(p.FloorplanID, p.VariantID)
	resultCh := b.group.DoChan(key, func() (interface{}, error) {
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		return b.materialize(detached, p, key)
	})
	select {
	case <-ctx.Done():
		return Materialized{}, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return Materialized{}, res.Err
		}
		return res.Val.(Materialized), nil
	}
}

func (b *Builder) materialize(ctx context.Context, p Placement, key string) (Materialized, error) {
	resolved, err := b.catalog.ResolveVariant(ctx, p.VariantID)
	if err != nil {
		return Materialized{}, classifyCatalogError(p.VariantID, err)
	}

	if b.locker != nil {
		release, err := b.locker.Acquire(ctx, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Materialized{}, ctxErr
			}
			b.logger.Warn("bom lock unavailable, relying on unique index",
				slog.String("key", key), slog.Any("error", err))
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					b.logger.Warn("bom lock release", slog.String("key", key), slog.Any("error", err))
				}
			}()
		}
	}

	existing, err := b.repo.FindMain(ctx, p.FloorplanID, p.VariantID)
	if err == nil {
		return Materialized{EntryID: existing.ID}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Materialized{}, fmt.Errorf("bom: find main entry: %w", err)
	}

	main := Entry{
		FloorplanID: p.FloorplanID,
		ItemID:      resolved.Item.ID,
		VariantID:   resolved.Variant.ID,
		Snapshot:    SnapshotFrom(resolved),
	}
	mainID, err := b.repo.Insert(ctx, main)
	if errors.Is(err, ErrConflict) {
		b.metrics.conflict()
		winner, findErr := b.repo.FindMain(ctx, p.FloorplanID, p.VariantID)
		if findErr != nil {
			return Materialized{}, fmt.Errorf("bom: reread main entry after conflict: %w", findErr)
		}
		b.logger.Debug("bom main entry created concurrently, reusing",
			slog.Int64("floorplan_id", p.FloorplanID), slog.Int64("variant_id", p.VariantID), slog.Int64("entry_id", winner.ID))
		return Materialized{EntryID: winner.ID}, nil
	}
	if err != nil {
		return Materialized{}, fmt.Errorf("bom: insert main entry: %w", err)
	}
	b.metrics.entryCreated(true)

	children := b.expandRequiredAddons(ctx, b.repo, mainID, p.FloorplanID, resolved.Item.ID)
	b.logger.Info("bom main entry created",
		slog.Int64("floorplan_id", p.FloorplanID), slog.Int64("variant_id", p.VariantID),
		slog.Int64("entry_id", mainID), slog.Int("children", len(children)))
	b.publish(ctx, SubjectEntryCreated, EntryEvent{FloorplanID: p.FloorplanID, EntryID: mainID, VariantID: p.VariantID, Children: children})
	return Materialized{EntryID: mainID, Created: true, Children: children}, nil
}

// expandRequiredAddons creates one child per required addon of itemID.
// Failures are logged and skipped; the main entry is never rolled back.
func (b *Builder) expandRequiredAddons(ctx context.Context, repo Repository, mainID, floorplanID, itemID int64) []int64 {
	addons, err := b.catalog.GetRequiredAddons(ctx, itemID)
	if err != nil {
		b.logger.Warn("bom required addons lookup failed",
			slog.Int64("entry_id", mainID), slog.Int64("item_id", itemID), slog.Any("error", err))
		return nil
	}
	addons = slices.DeleteFunc(slices.Clone(addons), func(a catalog.Addon) bool { return !a.IsRequired })
	slices.SortStableFunc(addons, func(a, c catalog.Addon) int {
		if n := cmp.Compare(a.SlotNumber, c.SlotNumber); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, c.ID)
	})

	var created []int64
	for _, addon := range addons {
		if ctx.Err() != nil {
			b.logger.Warn("bom addon expansion interrupted", slog.Int64("entry_id", mainID), slog.Any("error", ctx.Err()))
			break
		}
		resolved, err := b.resolveAddon(ctx, addon)
		if err != nil {
			b.metrics.addonSkipped()
			b.logger.Warn("bom required addon skipped",
				slog.Int64("entry_id", mainID), slog.Int64("addon_item_id", addon.AddonItemID), slog.Any("error", err))
			continue
		}
		parent := mainID
		child := Entry{
			FloorplanID:   floorplanID,
			ItemID:        resolved.Item.ID,
			VariantID:     resolved.Variant.ID,
			ParentEntryID: &parent,
			Snapshot:      SnapshotFrom(resolved),
		}
		var id int64
		err = repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
			var insertErr error
			id, insertErr = tx.Insert(ctx, child)
			return insertErr
		})
		if err != nil {
			b.metrics.addonSkipped()
			b.logger.Warn("bom child entry insert failed",
				slog.Int64("entry_id", mainID), slog.Int64("addon_item_id", addon.AddonItemID), slog.Any("error", err))
			continue
		}
		b.metrics.entryCreated(false)
		created = append(created, id)
	}
	return created
}

// resolveAddon prefers the variant pinned on the relation and otherwise
// takes the addon item's lowest-sort-order active variant.
func (b *Builder) resolveAddon(ctx context.Context, addon catalog.Addon) (catalog.Resolved, error) {
	if addon.AddonVariantID > 0 {
		return b.catalog.ResolveVariant(ctx, addon.AddonVariantID)
	}
	return b.catalog.LowestSortVariant(ctx, addon.AddonItemID)
}

func (b *Builder) publish(ctx context.Context, subject string, payload any) {
	if b.events == nil {
		return
	}
	if err := b.events.Publish(ctx, subject, payload); err != nil {
		b.logger.Warn("bom event publish failed", slog.String("subject", subject), slog.Any("error", err))
	}
}

func classifyCatalogError(variantID int64, err error) error {
	if errors.Is(err, catalog.ErrVariantNotFound) || errors.Is(err, catalog.ErrItemNotFound) {
		return fmt.Errorf("%w: variant %d: %w", ErrReferenceNotFound, variantID, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: resolve variant %d: %w", ErrUpstreamUnavailable, variantID, err)
}
