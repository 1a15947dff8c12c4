package placements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smartplan/smartplan/internal/bom"
	"github.com/smartplan/smartplan/internal/shared"
)

// Geometry is the position and size of a placement on the floorplan image.
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

// Validate checks the size is positive.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive", bom.ErrValidation)
	}
	return nil
}

// CreateInput describes a new placement. A non-empty IdempotencyKey makes a
// repeated request with the same key fail with ErrDuplicateRequest.
type CreateInput struct {
	FloorplanID    int64
	VariantID      int64
	IdempotencyKey string
	Geometry
}

// ErrDuplicateRequest indicates the idempotency key was already used.
var ErrDuplicateRequest = errors.New("placements: duplicate request")

const (
	idempotencyModule = "placements.create"
	maxCreateAttempts = 2
)

// IdempotencyStore remembers processed request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Store is the persistence contract of the service.
type Store interface {
	ListPlacements(ctx context.Context, floorplanID int64) ([]bom.Placement, error)
	Get(ctx context.Context, floorplanID, id int64) (bom.Placement, error)
	Create(ctx context.Context, p bom.Placement) (bom.Placement, error)
	UpdateGeometry(ctx context.Context, floorplanID, id int64, g Geometry) (bom.Placement, error)
	Delete(ctx context.Context, floorplanID, id int64) error
}

// Engine is the part of the BOM service placements depend on.
type Engine interface {
	MaterializeForPlacement(ctx context.Context, p bom.Placement) (int64, error)
	ReleaseVariant(ctx context.Context, floorplanID, variantID int64) (bool, error)
}

// Service manages placements and their BOM entries.
type Service struct {
	store       Store
	engine      Engine
	idempotency IdempotencyStore
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, engine Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, engine: engine, logger: logger}
}

// WithIdempotency enables Idempotency-Key handling on Create.
func (s *Service) WithIdempotency(store IdempotencyStore) *Service {
	s.idempotency = store
	return s
}

// List returns the placements of a floorplan.
func (s *Service) List(ctx context.Context, floorplanID int64) ([]bom.Placement, error) {
	return s.store.ListPlacements(ctx, floorplanID)
}

// Create materializes the BOM entry for the variant and stores the placement
// linked to it. An unknown variant leaves no trace.
func (s *Service) Create(ctx context.Context, in CreateInput) (bom.Placement, error) {
	if in.FloorplanID <= 0 || in.VariantID <= 0 {
		return bom.Placement{}, fmt.Errorf("%w: floorplan and variant required", bom.ErrValidation)
	}
	if err := in.Geometry.Validate(); err != nil {
		return bom.Placement{}, err
	}
	p := bom.Placement{
		FloorplanID: in.FloorplanID,
		VariantID:   in.VariantID,
		X:           in.X,
		Y:           in.Y,
		Width:       in.Width,
		Height:      in.Height,
	}
	key := ""
	if in.IdempotencyKey != "" && s.idempotency != nil {
		key = fmt.Sprintf("%d:%s", in.FloorplanID, in.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return bom.Placement{}, fmt.Errorf("%w: key %q", ErrDuplicateRequest, in.IdempotencyKey)
			}
			return bom.Placement{}, fmt.Errorf("%w: idempotency: %w", bom.ErrUpstreamUnavailable, err)
		}
	}
	created, entryID, err := s.create(ctx, p)
	if err != nil {
		if key != "" {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), key, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return bom.Placement{}, err
	}
	s.logger.Debug("placement created",
		slog.Int64("placement_id", created.ID), slog.Int64("floorplan_id", in.FloorplanID), slog.Int64("bom_entry_id", entryID))
	return created, nil
}

// create links the placement to its main entry. The entry may be released
// by a concurrent delete of the variant's last placement between
// materializing and inserting; the store then reports bom.ErrConflict and
// the entry is materialized once more.
func (s *Service) create(ctx context.Context, p bom.Placement) (bom.Placement, int64, error) {
	for attempt := 1; ; attempt++ {
		entryID, err := s.engine.MaterializeForPlacement(ctx, p)
		if err != nil {
			return bom.Placement{}, 0, err
		}
		p.BOMEntryID = &entryID
		created, err := s.store.Create(ctx, p)
		if errors.Is(err, bom.ErrConflict) && attempt < maxCreateAttempts {
			s.logger.Debug("bom entry released during placement create, retrying",
				slog.Int64("floorplan_id", p.FloorplanID), slog.Int64("variant_id", p.VariantID), slog.Int64("bom_entry_id", entryID))
			continue
		}
		return created, entryID, err
	}
}

// Move updates position and size only.
func (s *Service) Move(ctx context.Context, floorplanID, id int64, g Geometry) (bom.Placement, error) {
	if err := g.Validate(); err != nil {
		return bom.Placement{}, err
	}
	return s.store.UpdateGeometry(ctx, floorplanID, id, g)
}

// Delete removes a placement and releases its BOM entry when it was the
// last placement of its variant on the floorplan.
func (s *Service) Delete(ctx context.Context, floorplanID, id int64) error {
	p, err := s.store.Get(ctx, floorplanID, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, floorplanID, id); err != nil {
		return err
	}
	released, err := s.engine.ReleaseVariant(ctx, floorplanID, p.VariantID)
	if err != nil {
		return fmt.Errorf("placements: release bom entry: %w", err)
	}
	if released {
		s.logger.Info("bom entry released with last placement",
			slog.Int64("floorplan_id", floorplanID), slog.Int64("variant_id", p.VariantID))
	}
	return nil
}
