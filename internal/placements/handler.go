package placements

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/smartplan/smartplan/internal/bom"
	bomhttp "github.com/smartplan/smartplan/internal/bom/http"
	"github.com/smartplan/smartplan/internal/platform/httpx"
)

type placementService interface {
	List(ctx context.Context, floorplanID int64) ([]bom.Placement, error)
	Create(ctx context.Context, in CreateInput) (bom.Placement, error)
	Move(ctx context.Context, floorplanID, id int64, g Geometry) (bom.Placement, error)
	Delete(ctx context.Context, floorplanID, id int64) error
}

// IdempotencyHeader makes placement creation safe to retry.
const IdempotencyHeader = "Idempotency-Key"

var errorMappings = append([]httpx.Mapping{
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrDuplicateRequest, Status: http.StatusConflict, Title: "Duplicate Request"},
}, bomhttp.ErrorMappings...)

// Handler exposes placements over JSON.
type Handler struct {
	logger    *slog.Logger
	service   placementService
	validator *validator.Validate
}

// NewHandler constructs a placements HTTP handler.
func NewHandler(logger *slog.Logger, service placementService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/floorplans/{floorplanID}/placements", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Patch("/{placementID}", h.move)
		r.Delete("/{placementID}", h.delete)
	})
}

type createRequest struct {
	VariantID int64   `json:"variant_id" validate:"required,gt=0"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width" validate:"gt=0"`
	Height    float64 `json:"height" validate:"gt=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	items, err := h.service.List(r.Context(), floorplanID)
	if err != nil {
		h.fail(w, "list placements", err)
		return
	}
	if items == nil {
		items = []bom.Placement{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{
		FloorplanID:    floorplanID,
		VariantID:      req.VariantID,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		Geometry:       Geometry{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height},
	})
	if err != nil {
		h.fail(w, "create placement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	id, ok := pathID(w, r, "placementID")
	if !ok {
		return
	}
	var g Geometry
	if !h.decode(w, r, &g) {
		return
	}
	p, err := h.service.Move(r.Context(), floorplanID, id, g)
	if err != nil {
		h.fail(w, "move placement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	id, ok := pathID(w, r, "placementID")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), floorplanID, id); err != nil {
		h.fail(w, "delete placement", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		detail := err.Error()
		if errors.As(err, &verrs) && len(verrs) > 0 {
			detail = verrs[0].Field() + " failed " + verrs[0].Tag()
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", detail)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, bom.ErrUpstreamUnavailable) || !matched(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorMappings...)
}

func matched(err error) bool {
	for _, m := range errorMappings {
		if errors.Is(err, m.Target) {
			return true
		}
	}
	return false
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}
