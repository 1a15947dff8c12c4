package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/smartplan/smartplan/internal/platform/db"
)

// PGRepository reads audit_logs from Postgres.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a Postgres-backed timeline repository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

const timelineSelect = `
SELECT occurred_at, actor, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::text IS NULL OR actor = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action LIKE $6 || '%')
  AND ($7::text IS NULL
       OR (entity = 'floorplan' AND entity_id = $7)
       OR meta->>'floorplan_id' = $7)
ORDER BY occurred_at DESC, id DESC`

// TimelineWindow returns one window of rows ordered newest first.
func (r *PGRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	args := append(filterArgs(filters), limit, offset)
	rows, err := r.db.Query(ctx, timelineSelect+` LIMIT $8 OFFSET $9`, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit timeline: %w", err)
	}
	return collectRows(rows)
}

// TimelineAll returns every row matching the filters.
func (r *PGRepository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	rows, err := r.db.Query(ctx, timelineSelect, filterArgs(filters)...)
	if err != nil {
		return nil, fmt.Errorf("query audit export: %w", err)
	}
	return collectRows(rows)
}

func filterArgs(f TimelineFilters) []any {
	floorplan := pgtype.Text{}
	if f.FloorplanID > 0 {
		floorplan = pgtype.Text{String: strconv.FormatInt(f.FloorplanID, 10), Valid: true}
	}
	return []any{
		toPgTime(f.From),
		toPgTime(f.To),
		optionalText(f.Actor),
		optionalText(f.Entity),
		optionalText(f.EntityID),
		optionalText(f.Action),
		floorplan,
	}
}

func collectRows(rows pgx.Rows) ([]TimelineRow, error) {
	defer rows.Close()
	var result []TimelineRow
	for rows.Next() {
		var (
			at   pgtype.Timestamptz
			row  TimelineRow
			meta []byte
		)
		if err := rows.Scan(&at, &row.Actor, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if at.Valid {
			row.At = at.Time
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, fmt.Errorf("decode audit meta: %w", err)
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
