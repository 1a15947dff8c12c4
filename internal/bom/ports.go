package bom

import (
	"context"

	"github.com/smartplan/smartplan/internal/catalog"
	"github.com/smartplan/smartplan/internal/shared"
)

// Repository persists BOM entries.
type Repository interface {
	// WithTx runs fn in a transaction. Called on a repository that is
	// already bound to a transaction it opens a savepoint, so a failed fn
	// leaves the enclosing transaction usable.
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (Entry, error)
	FindMain(ctx context.Context, floorplanID, variantID int64) (Entry, error)
	// LockMain is FindMain holding a row lock until the transaction ends.
	LockMain(ctx context.Context, floorplanID, variantID int64) (Entry, error)
	ListByFloorplan(ctx context.Context, floorplanID int64) ([]Entry, error)
	ListFloorplanIDs(ctx context.Context) ([]int64, error)
	// Insert returns ErrConflict when a second main entry for the same
	// floorplan/variant would be created.
	Insert(ctx context.Context, entry Entry) (int64, error)
	UpdateSnapshot(ctx context.Context, id int64, snap Snapshot) error
	Retarget(ctx context.Context, id, itemID, variantID int64, snap Snapshot) error
	DeleteChildren(ctx context.Context, parentID int64) error
	Delete(ctx context.Context, id int64) error
	// CountPlacements counts the placements of a variant on a floorplan.
	CountPlacements(ctx context.Context, floorplanID, variantID int64) (int, error)
	// ReassignPlacements moves the placements of a variant on a floorplan to
	// another variant and links them to entryID.
	ReassignPlacements(ctx context.Context, floorplanID, fromVariantID, toVariantID, entryID int64) (int64, error)
}

// CatalogPort is the read side of the catalog store.
type CatalogPort interface {
	ResolveVariant(ctx context.Context, variantID int64) (catalog.Resolved, error)
	GetRequiredAddons(ctx context.Context, itemID int64) ([]catalog.Addon, error)
	LowestSortVariant(ctx context.Context, itemID int64) (catalog.Resolved, error)
}

// PlacementPort is the subset of the placement store the engine needs.
type PlacementPort interface {
	ListPlacements(ctx context.Context, floorplanID int64) ([]Placement, error)
}

// Locker serializes main-entry creation across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPublisher announces BOM changes to other services.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Event subjects published by the service.
const (
	SubjectEntryCreated = "bom.entry.created"
	SubjectEntryDeleted = "bom.entry.deleted"
	SubjectReconciled   = "bom.reconciled"
)

// EntryEvent is the payload of entry created/deleted events.
type EntryEvent struct {
	FloorplanID int64   `json:"floorplan_id"`
	EntryID     int64   `json:"entry_id"`
	VariantID   int64   `json:"variant_id"`
	Children    []int64 `json:"children,omitempty"`
}
