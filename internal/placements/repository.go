// Package placements stores floorplan placements and keeps their BOM entries
// in step with them.
package placements

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartplan/smartplan/internal/bom"
	"github.com/smartplan/smartplan/internal/platform/db"
)

// ErrNotFound indicates the placement does not exist on the floorplan.
var ErrNotFound = errors.New("placements: not found")

// Repository persists placements in PostgreSQL.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const placementColumns = `id, floorplan_id, variant_id, x, y, width, height, bom_entry_id, created_at, updated_at`

// ListPlacements returns the placements of a floorplan ordered by id.
func (r *Repository) ListPlacements(ctx context.Context, floorplanID int64) ([]bom.Placement, error) {
	rows, err := r.db.Query(ctx, `SELECT `+placementColumns+` FROM placements WHERE floorplan_id = $1 ORDER BY id`, floorplanID)
	if err != nil {
		return nil, fmt.Errorf("%w: list placements: %w", bom.ErrUpstreamUnavailable, err)
	}
	defer rows.Close()

	var out []bom.Placement
	for rows.Next() {
		p, err := scanPlacement(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan placement: %w", bom.ErrUpstreamUnavailable, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list placements: %w", bom.ErrUpstreamUnavailable, err)
	}
	return out, nil
}

// Get loads a placement scoped to its floorplan.
func (r *Repository) Get(ctx context.Context, floorplanID, id int64) (bom.Placement, error) {
	row := r.db.QueryRow(ctx, `SELECT `+placementColumns+` FROM placements WHERE id = $1 AND floorplan_id = $2`, id, floorplanID)
	p, err := scanPlacement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bom.Placement{}, fmt.Errorf("%w: placement %d", ErrNotFound, id)
		}
		return bom.Placement{}, fmt.Errorf("%w: get placement: %w", bom.ErrUpstreamUnavailable, err)
	}
	return p, nil
}

// Create inserts a placement linked to its main BOM entry.
func (r *Repository) Create(ctx context.Context, p bom.Placement) (bom.Placement, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO placements (floorplan_id, variant_id, x, y, width, height, bom_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+placementColumns,
		p.FloorplanID, p.VariantID, p.X, p.Y, p.Width, p.Height, nullableID(p.BOMEntryID))
	created, err := scanPlacement(row)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return bom.Placement{}, fmt.Errorf("%w: bom entry released concurrently", bom.ErrConflict)
		}
		return bom.Placement{}, fmt.Errorf("%w: insert placement: %w", bom.ErrUpstreamUnavailable, err)
	}
	return created, nil
}

// UpdateGeometry moves or resizes a placement. BOM linkage is untouched.
func (r *Repository) UpdateGeometry(ctx context.Context, floorplanID, id int64, g Geometry) (bom.Placement, error) {
	row := r.db.QueryRow(ctx, `UPDATE placements SET x = $3, y = $4, width = $5, height = $6, updated_at = NOW()
		WHERE id = $1 AND floorplan_id = $2
		RETURNING `+placementColumns, id, floorplanID, g.X, g.Y, g.Width, g.Height)
	p, err := scanPlacement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bom.Placement{}, fmt.Errorf("%w: placement %d", ErrNotFound, id)
		}
		return bom.Placement{}, fmt.Errorf("%w: update placement: %w", bom.ErrUpstreamUnavailable, err)
	}
	return p, nil
}

// Delete removes a placement.
func (r *Repository) Delete(ctx context.Context, floorplanID, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM placements WHERE id = $1 AND floorplan_id = $2`, id, floorplanID)
	if err != nil {
		return fmt.Errorf("%w: delete placement: %w", bom.ErrUpstreamUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: placement %d", ErrNotFound, id)
	}
	return nil
}

func scanPlacement(row pgx.Row) (bom.Placement, error) {
	var (
		p     bom.Placement
		entry pgtype.Int8
	)
	if err := row.Scan(&p.ID, &p.FloorplanID, &p.VariantID, &p.X, &p.Y, &p.Width, &p.Height, &entry, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return bom.Placement{}, err
	}
	if entry.Valid {
		id := entry.Int64
		p.BOMEntryID = &id
	}
	return p, nil
}

func nullableID(id *int64) pgtype.Int8 {
	if id == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *id, Valid: true}
}
