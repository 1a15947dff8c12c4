package bomhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/smartplan/smartplan/internal/bom"
	"github.com/smartplan/smartplan/internal/bom/export"
	"github.com/smartplan/smartplan/internal/platform/httpx"
)

type bomService interface {
	BuildView(ctx context.Context, floorplanID int64) (bom.View, error)
	GetEntry(ctx context.Context, entryID int64) (bom.Entry, error)
	UpdateFromCatalog(ctx context.Context, floorplanID int64) (bom.ChangeReport, error)
	PreviewFromCatalog(ctx context.Context, floorplanID int64) (bom.ChangeReport, error)
	DeleteBomEntry(ctx context.Context, floorplanID, entryID int64) error
	SwitchVariant(ctx context.Context, floorplanID, entryID, variantID int64) (bom.Entry, error)
}

// Enqueuer schedules asynchronous reconciliation runs.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, floorplanID int64) (string, error)
}

// ErrorMappings maps BOM errors onto HTTP problem responses.
var ErrorMappings = []httpx.Mapping{
	{Target: bom.ErrReferenceNotFound, Status: http.StatusNotFound, Title: "Reference Not Found"},
	{Target: bom.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: bom.ErrConflict, Status: http.StatusConflict, Title: "Conflict"},
	{Target: bom.ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: bom.ErrUpstreamUnavailable, Status: http.StatusServiceUnavailable, Title: "Upstream Unavailable"},
}

// Handler exposes the BOM engine over JSON.
type Handler struct {
	logger    *slog.Logger
	service   bomService
	enqueuer  Enqueuer
	export    export.Options
	validator *validator.Validate
}

// NewHandler constructs a BOM HTTP handler. enqueuer may be nil, in which
// case asynchronous reconciliation is unavailable.
func NewHandler(logger *slog.Logger, service bomService, enqueuer Enqueuer, exportOpts export.Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		enqueuer:  enqueuer,
		export:    exportOpts,
		validator: validator.New(),
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/floorplans/{floorplanID}/bom", func(r chi.Router) {
		r.Get("/", h.getView)
		r.Get("/export.xlsx", h.exportView)
		r.Post("/reconcile", h.reconcile)
		r.Post("/reconcile/async", h.reconcileAsync)
		r.Delete("/entries/{entryID}", h.deleteEntry)
		r.Post("/entries/{entryID}/switch-variant", h.switchVariant)
	})
	r.Get("/bom/entries/{entryID}", h.getEntry)
}

type switchVariantRequest struct {
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
}

type enqueueResponse struct {
	TaskID      string `json:"task_id"`
	FloorplanID int64  `json:"floorplan_id"`
}

func (h *Handler) getView(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := h.pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	view, err := h.service.BuildView(r.Context(), floorplanID)
	if err != nil {
		h.fail(w, "build bom view", err)
		return
	}
	if !queryFlag(r, "include_orphaned") {
		view.Orphaned = nil
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) exportView(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := h.pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	view, err := h.service.BuildView(r.Context(), floorplanID)
	if err != nil {
		h.fail(w, "build bom view", err)
		return
	}
	f, err := export.Workbook(view, h.export)
	if err != nil {
		h.fail(w, "render bom workbook", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(floorplanID)+`"`)
	if _, err := f.WriteTo(w); err != nil {
		h.logger.Error("write bom workbook", slog.Int64("floorplan_id", floorplanID), slog.Any("error", err))
	}
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := h.pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	var (
		report bom.ChangeReport
		err    error
	)
	if queryFlag(r, "dry_run") {
		report, err = h.service.PreviewFromCatalog(r.Context(), floorplanID)
	} else {
		report, err = h.service.UpdateFromCatalog(r.Context(), floorplanID)
	}
	if err != nil {
		if len(report.Updated) > 0 {
			h.logger.Warn("bom reconcile stopped after partial update",
				slog.Int64("floorplan_id", floorplanID), slog.String("run_id", report.RunID),
				slog.Int("updated", len(report.Updated)), slog.Any("error", err))
			httpx.RespondErrorWith(w, err, map[string]any{"partial": true, "report": report}, ErrorMappings...)
			return
		}
		h.fail(w, "reconcile bom", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) reconcileAsync(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := h.pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Upstream Unavailable", "job queue not configured")
		return
	}
	taskID, err := h.enqueuer.EnqueueReconcile(r.Context(), floorplanID)
	if err != nil {
		h.logger.Error("enqueue reconcile", slog.Int64("floorplan_id", floorplanID), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Upstream Unavailable", "could not enqueue reconciliation")
		return
	}
	httpx.JSON(w, http.StatusAccepted, enqueueResponse{TaskID: taskID, FloorplanID: floorplanID})
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := h.pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	entryID, ok := h.pathID(w, r, "entryID")
	if !ok {
		return
	}
	if err := h.service.DeleteBomEntry(r.Context(), floorplanID, entryID); err != nil {
		h.fail(w, "delete bom entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) switchVariant(w http.ResponseWriter, r *http.Request) {
	floorplanID, ok := h.pathID(w, r, "floorplanID")
	if !ok {
		return
	}
	entryID, ok := h.pathID(w, r, "entryID")
	if !ok {
		return
	}
	var req switchVariantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	entry, err := h.service.SwitchVariant(r.Context(), floorplanID, entryID, req.VariantID)
	if err != nil {
		h.fail(w, "switch bom variant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	entryID, ok := h.pathID(w, r, "entryID")
	if !ok {
		return
	}
	entry, err := h.service.GetEntry(r.Context(), entryID)
	if err != nil {
		h.fail(w, "get bom entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !isExpected(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err, ErrorMappings...)
}

func isExpected(err error) bool {
	for _, m := range ErrorMappings {
		if m.Status < http.StatusInternalServerError && errors.Is(err, m.Target) {
			return true
		}
	}
	return false
}

func queryFlag(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field() + " failed " + verrs[0].Tag()
	}
	return err.Error()
}
