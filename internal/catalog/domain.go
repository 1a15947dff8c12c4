// Package catalog reads the live product catalog: items, their priced
// variants and the addon relations between them.
package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Item is a catalog product. Prices live on its variants.
type Item struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	BaseModelNumber string `json:"base_model_number,omitempty"`
	PicturePath     string `json:"picture_path,omitempty"`
	IsActive        bool   `json:"is_active"`
}

// Variant is a priced SKU of an item.
type Variant struct {
	ID          int64           `json:"id"`
	ItemID      int64           `json:"item_id"`
	StyleName   string          `json:"style_name,omitempty"`
	Price       decimal.Decimal `json:"price"`
	PicturePath string          `json:"picture_path,omitempty"`
	SortOrder   int             `json:"sort_order"`
	IsActive    bool            `json:"is_active"`
}

// Resolved is the live catalog state for one variant and its parent item.
type Resolved struct {
	Item    Item
	Variant Variant
}

// Active reports whether both the variant and its item are sellable.
func (r Resolved) Active() bool {
	return r.Item.IsActive && r.Variant.IsActive
}

// Addon relates an item to a companion item. AddonVariantID is zero when the
// relation does not pin a specific variant.
type Addon struct {
	ID             int64 `json:"id"`
	ItemID         int64 `json:"item_id"`
	AddonItemID    int64 `json:"addon_item_id"`
	AddonVariantID int64 `json:"addon_variant_id,omitempty"`
	SlotNumber     int   `json:"slot_number"`
	IsRequired     bool  `json:"is_required"`
}

var (
	// ErrVariantNotFound indicates the variant row no longer exists.
	ErrVariantNotFound = errors.New("catalog: variant not found")
	// ErrItemNotFound indicates the variant's item no longer exists.
	ErrItemNotFound = errors.New("catalog: item not found")
)
