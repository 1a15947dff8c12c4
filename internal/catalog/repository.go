package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartplan/smartplan/internal/platform/db"
)

// Repository reads catalog tables from PostgreSQL.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const resolveColumns = `
	v.id, v.item_id, v.style_name, v.price, v.picture_path, v.sort_order, v.is_active,
	i.id, i.name, i.base_model_number, i.picture_path, i.is_active`

// ResolveVariant loads a variant together with its item.
func (r *Repository) ResolveVariant(ctx context.Context, variantID int64) (Resolved, error) {
	row := r.db.QueryRow(ctx, `SELECT `+resolveColumns+`
		FROM catalog_variants v
		LEFT JOIN catalog_items i ON i.id = v.item_id
		WHERE v.id = $1`, variantID)
	res, err := scanResolved(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolved{}, fmt.Errorf("%w: id %d", ErrVariantNotFound, variantID)
		}
		return Resolved{}, err
	}
	return res, nil
}

// LowestSortVariant returns the first active variant of an item by sort order.
func (r *Repository) LowestSortVariant(ctx context.Context, itemID int64) (Resolved, error) {
	row := r.db.QueryRow(ctx, `SELECT `+resolveColumns+`
		FROM catalog_variants v
		LEFT JOIN catalog_items i ON i.id = v.item_id
		WHERE v.item_id = $1 AND v.is_active
		ORDER BY v.sort_order, v.id
		LIMIT 1`, itemID)
	res, err := scanResolved(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolved{}, fmt.Errorf("%w: no active variant for item %d", ErrVariantNotFound, itemID)
		}
		return Resolved{}, err
	}
	return res, nil
}

// GetRequiredAddons lists required addon relations of an item ordered by
// slot number, ties broken by relation id.
func (r *Repository) GetRequiredAddons(ctx context.Context, itemID int64) ([]Addon, error) {
	rows, err := r.db.Query(ctx, `SELECT id, item_id, addon_item_id, addon_variant_id, slot_number, is_required
		FROM catalog_addons
		WHERE item_id = $1 AND is_required
		ORDER BY slot_number, id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addons []Addon
	for rows.Next() {
		var a Addon
		var pinned pgtype.Int8
		if err := rows.Scan(&a.ID, &a.ItemID, &a.AddonItemID, &pinned, &a.SlotNumber, &a.IsRequired); err != nil {
			return nil, err
		}
		if pinned.Valid {
			a.AddonVariantID = pinned.Int64
		}
		addons = append(addons, a)
	}
	return addons, rows.Err()
}

func scanResolved(row pgx.Row) (Resolved, error) {
	var (
		res                       Resolved
		price                     pgtype.Numeric
		styleName, variantPicture pgtype.Text
		itemID                    pgtype.Int8
		itemName, baseModel       pgtype.Text
		itemPicture               pgtype.Text
		itemActive                pgtype.Bool
	)
	err := row.Scan(
		&res.Variant.ID, &res.Variant.ItemID, &styleName, &price, &variantPicture, &res.Variant.SortOrder, &res.Variant.IsActive,
		&itemID, &itemName, &baseModel, &itemPicture, &itemActive,
	)
	if err != nil {
		return Resolved{}, err
	}
	if !itemID.Valid {
		return Resolved{}, fmt.Errorf("%w: id %d", ErrItemNotFound, res.Variant.ItemID)
	}
	res.Variant.StyleName = styleName.String
	res.Variant.PicturePath = variantPicture.String
	res.Variant.Price = db.NumericToDecimal(price)
	res.Item = Item{
		ID:              itemID.Int64,
		Name:            itemName.String,
		BaseModelNumber: baseModel.String,
		PicturePath:     itemPicture.String,
		IsActive:        itemActive.Bool,
	}
	return res, nil
}
