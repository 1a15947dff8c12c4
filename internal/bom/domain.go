// Package bom turns floorplan placements into a priced, hierarchical bill of
// materials and keeps its quoted prices in line with the catalog on request.
package bom

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartplan/smartplan/internal/catalog"
)

// Snapshot holds the as-quoted values of an entry. They are copied from the
// catalog when the entry is created and change only through reconciliation
// or an explicit variant switch.
type Snapshot struct {
	Name        string          `json:"name_snapshot"`
	ModelNumber string          `json:"model_number_snapshot"`
	Price       decimal.Decimal `json:"price_snapshot"`
	PicturePath string          `json:"picture_path,omitempty"`
}

// SnapshotFrom freezes the live catalog values of a resolved variant.
func SnapshotFrom(r catalog.Resolved) Snapshot {
	style := strings.TrimSpace(r.Variant.StyleName)
	name := strings.TrimSpace(r.Item.Name)
	if style != "" {
		name = name + " - " + style
	}
	model := strings.TrimSpace(r.Item.BaseModelNumber)
	if model == "" {
		model = style
	}
	picture := r.Variant.PicturePath
	if picture == "" {
		picture = r.Item.PicturePath
	}
	return Snapshot{
		Name:        name,
		ModelNumber: model,
		Price:       r.Variant.Price,
		PicturePath: picture,
	}
}

// Entry is a persisted BOM line item. Main entries have no parent; child
// entries are required addons expanded under exactly one main entry.
type Entry struct {
	ID            int64     `json:"id"`
	FloorplanID   int64     `json:"floorplan_id"`
	ItemID        int64     `json:"item_id"`
	VariantID     int64     `json:"variant_id"`
	ParentEntryID *int64    `json:"parent_entry_id,omitempty"`
	Snapshot      Snapshot  `json:"snapshot"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsMain reports whether the entry is a main entry.
func (e Entry) IsMain() bool {
	return e.ParentEntryID == nil
}

// Placement is a spatial instance of a catalog variant on a floorplan.
type Placement struct {
	ID          int64     `json:"id"`
	FloorplanID int64     `json:"floorplan_id"`
	VariantID   int64     `json:"variant_id"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	BOMEntryID  *int64    `json:"bom_entry_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Group is a main entry with its children and the placement count driving it.
type Group struct {
	Main       Entry           `json:"main_entry"`
	Children   []Entry         `json:"children"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// View is the read model of a floorplan BOM. Groups only holds groups with a
// positive quantity; zero-quantity groups are listed in Orphaned and never
// counted in TotalPrice.
type View struct {
	FloorplanID int64           `json:"floorplan_id"`
	Groups      []Group         `json:"groups"`
	Orphaned    []Group         `json:"orphaned,omitempty"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// InvalidReason explains why an entry no longer resolves in the catalog.
type InvalidReason string

const (
	ReasonVariantNotFound InvalidReason = "variant_not_found"
	ReasonItemNotFound    InvalidReason = "item_not_found"
	ReasonVariantInactive InvalidReason = "variant_inactive"
	ReasonItemInactive    InvalidReason = "item_inactive"
)

// PriceUpdate is one updated line of a change report.
type PriceUpdate struct {
	EntryID  int64           `json:"entry_id"`
	Name     string          `json:"name"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
}

// InvalidReference is one entry whose variant could not be used.
type InvalidReference struct {
	EntryID int64         `json:"entry_id"`
	Name    string        `json:"name"`
	Reason  InvalidReason `json:"reason"`
}

// ChangeReport is the point-in-time result of a catalog reconciliation.
type ChangeReport struct {
	RunID       string             `json:"run_id"`
	FloorplanID int64              `json:"floorplan_id"`
	DryRun      bool               `json:"dry_run"`
	GeneratedAt time.Time          `json:"generated_at"`
	Updated     []PriceUpdate      `json:"updated"`
	Invalid     []InvalidReference `json:"invalid"`
	TotalBefore decimal.Decimal    `json:"total_before"`
	TotalAfter  decimal.Decimal    `json:"total_after"`
}
