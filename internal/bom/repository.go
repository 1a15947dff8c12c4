package bom

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartplan/smartplan/internal/platform/db"
)

// PgRepository persists BOM entries in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
	db   db.DBTX
}

// NewRepository constructs a PgRepository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

// WithTx executes fn inside a repeatable-read transaction. The repository
// passed to fn is bound to the transaction. Inside a transaction it opens a
// savepoint instead.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("bom: repository not initialised")
	}
	if tx, inTx := r.db.(pgx.Tx); inTx {
		return pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
			return fn(ctx, &PgRepository{pool: r.pool, db: sp})
		})
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PgRepository{pool: r.pool, db: tx})
	})
	if err != nil && !isDomainError(err) {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return err
}

const entryColumns = `id, floorplan_id, item_id, variant_id, parent_entry_id,
	name_snapshot, model_number_snapshot, price_snapshot, picture_path, created_at, updated_at`

// Get loads an entry by id.
func (r *PgRepository) Get(ctx context.Context, id int64) (Entry, error) {
	row := r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM bom_entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		return Entry{}, notFoundOrUpstream(err, fmt.Sprintf("entry %d", id))
	}
	return entry, nil
}

// FindMain loads the main entry of a floorplan/variant pair.
func (r *PgRepository) FindMain(ctx context.Context, floorplanID, variantID int64) (Entry, error) {
	row := r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM bom_entries
		WHERE floorplan_id = $1 AND variant_id = $2 AND parent_entry_id IS NULL`, floorplanID, variantID)
	entry, err := scanEntry(row)
	if err != nil {
		return Entry{}, notFoundOrUpstream(err, fmt.Sprintf("main entry floorplan %d variant %d", floorplanID, variantID))
	}
	return entry, nil
}

// LockMain loads the main entry of a floorplan/variant pair FOR UPDATE.
func (r *PgRepository) LockMain(ctx context.Context, floorplanID, variantID int64) (Entry, error) {
	row := r.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM bom_entries
		WHERE floorplan_id = $1 AND variant_id = $2 AND parent_entry_id IS NULL
		FOR UPDATE`, floorplanID, variantID)
	entry, err := scanEntry(row)
	if err != nil {
		return Entry{}, notFoundOrUpstream(err, fmt.Sprintf("main entry floorplan %d variant %d", floorplanID, variantID))
	}
	return entry, nil
}

// ListByFloorplan returns every entry of a floorplan ordered by id.
func (r *PgRepository) ListByFloorplan(ctx context.Context, floorplanID int64) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM bom_entries
		WHERE floorplan_id = $1 ORDER BY id`, floorplanID)
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %w", ErrUpstreamUnavailable, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan entry: %w", ErrUpstreamUnavailable, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list entries: %w", ErrUpstreamUnavailable, err)
	}
	return entries, nil
}

// ListFloorplanIDs returns the floorplans that hold at least one entry.
func (r *PgRepository) ListFloorplanIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT floorplan_id FROM bom_entries ORDER BY floorplan_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list floorplans: %w", ErrUpstreamUnavailable, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("%w: list floorplans: %w", ErrUpstreamUnavailable, err)
	}
	return ids, nil
}

// Insert stores a new entry and returns its id.
func (r *PgRepository) Insert(ctx context.Context, entry Entry) (int64, error) {
	var parent pgtype.Int8
	if entry.ParentEntryID != nil {
		parent = pgtype.Int8{Int64: *entry.ParentEntryID, Valid: true}
	}
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO bom_entries
		(floorplan_id, item_id, variant_id, parent_entry_id, name_snapshot, model_number_snapshot, price_snapshot, picture_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.FloorplanID, entry.ItemID, entry.VariantID, parent,
		entry.Snapshot.Name, entry.Snapshot.ModelNumber, db.DecimalToNumeric(entry.Snapshot.Price), entry.Snapshot.PicturePath,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: floorplan %d variant %d", ErrConflict, entry.FloorplanID, entry.VariantID)
		}
		return 0, fmt.Errorf("%w: insert entry: %w", ErrUpstreamUnavailable, err)
	}
	return id, nil
}

// UpdateSnapshot overwrites the as-quoted values of an entry.
func (r *PgRepository) UpdateSnapshot(ctx context.Context, id int64, snap Snapshot) error {
	tag, err := r.db.Exec(ctx, `UPDATE bom_entries
		SET name_snapshot = $2, model_number_snapshot = $3, price_snapshot = $4, picture_path = $5, updated_at = NOW()
		WHERE id = $1`, id, snap.Name, snap.ModelNumber, db.DecimalToNumeric(snap.Price), snap.PicturePath)
	if err != nil {
		return fmt.Errorf("%w: update snapshot: %w", ErrUpstreamUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}
	return nil
}

// Retarget points an entry at another catalog variant.
func (r *PgRepository) Retarget(ctx context.Context, id, itemID, variantID int64, snap Snapshot) error {
	tag, err := r.db.Exec(ctx, `UPDATE bom_entries
		SET item_id = $2, variant_id = $3, name_snapshot = $4, model_number_snapshot = $5,
			price_snapshot = $6, picture_path = $7, updated_at = NOW()
		WHERE id = $1`, id, itemID, variantID, snap.Name, snap.ModelNumber, db.DecimalToNumeric(snap.Price), snap.PicturePath)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: variant %d", ErrConflict, variantID)
		}
		return fmt.Errorf("%w: retarget entry: %w", ErrUpstreamUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}
	return nil
}

// DeleteChildren removes every child of parentID.
func (r *PgRepository) DeleteChildren(ctx context.Context, parentID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM bom_entries WHERE parent_entry_id = $1`, parentID); err != nil {
		return fmt.Errorf("%w: delete children: %w", ErrUpstreamUnavailable, err)
	}
	return nil
}

// Delete removes one entry. Children of a main entry cascade.
func (r *PgRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM bom_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete entry: %w", ErrUpstreamUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}
	return nil
}

// CountPlacements counts the placements of a variant on a floorplan.
func (r *PgRepository) CountPlacements(ctx context.Context, floorplanID, variantID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM placements WHERE floorplan_id = $1 AND variant_id = $2`,
		floorplanID, variantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count placements: %w", ErrUpstreamUnavailable, err)
	}
	return n, nil
}

// ReassignPlacements moves the placements of a variant to another variant and
// links them to entryID.
func (r *PgRepository) ReassignPlacements(ctx context.Context, floorplanID, fromVariantID, toVariantID, entryID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE placements SET variant_id = $3, bom_entry_id = $4, updated_at = NOW()
		WHERE floorplan_id = $1 AND variant_id = $2`, floorplanID, fromVariantID, toVariantID, entryID)
	if err != nil {
		return 0, fmt.Errorf("%w: reassign placements: %w", ErrUpstreamUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry   Entry
		parent  pgtype.Int8
		model   pgtype.Text
		picture pgtype.Text
		price   pgtype.Numeric
	)
	err := row.Scan(&entry.ID, &entry.FloorplanID, &entry.ItemID, &entry.VariantID, &parent,
		&entry.Snapshot.Name, &model, &price, &picture, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	if parent.Valid {
		p := parent.Int64
		entry.ParentEntryID = &p
	}
	entry.Snapshot.ModelNumber = model.String
	entry.Snapshot.PicturePath = picture.String
	entry.Snapshot.Price = db.NumericToDecimal(price)
	return entry, nil
}

func notFoundOrUpstream(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, what, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{ErrReferenceNotFound, ErrConflict, ErrUpstreamUnavailable, ErrNotFound, ErrValidation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
