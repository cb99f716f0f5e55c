package summary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/doubleoak/estimator-api/internal/common"
	"github.com/doubleoak/estimator-api/internal/obs"
)

// SessionStore is the slice of the session store the summary endpoints use.
// *session.Store satisfies it.
type SessionStore interface {
	SummaryItems(ctx context.Context, sid string) ([]Entry, error)
	SaveSummaryItems(ctx context.Context, sid string, items []Entry) error
	ClearSummary(ctx context.Context, sid string) error
}

// Handler exposes the material summary endpoints.
type Handler struct {
	store    SessionStore
	validate *validator.Validate
	log      zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Store    SessionStore
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:    cfg.Store,
		validate: cfg.Validate,
		log:      cfg.Logger.With().Str("component", "summary_http").Logger(),
	}
}

type addItemsRequest struct {
	Items []Entry `json:"items" validate:"required,min=1,dive"`
}

// AddItems handles POST /v1/sessions/{sid}/summary/items: appends committed
// material entries from an estimating category.
func (h *Handler) AddItems(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req addItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid json body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid material entries", nil)
		return
	}

	ctx := r.Context()
	items, err := h.store.SummaryItems(ctx, sid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items = append(items, req.Items...)
	if err := h.store.SaveSummaryItems(ctx, sid, items); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, map[string]any{"count": len(items)}, nil)
}

// row is one grouped summary line as rendered to the caller.
type row struct {
	Entry
	Descriptor string `json:"descriptor"`
}

// Get handles GET /v1/sessions/{sid}/summary: the grouped material table.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	items, err := h.store.SummaryItems(r.Context(), sid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	grouped := Group(items)
	rows := make([]row, 0, len(grouped.Rows))
	for _, e := range grouped.Rows {
		rows = append(rows, row{Entry: e, Descriptor: FormatDescriptor(e.Unit, e.AltQtyValue)})
	}
	common.JSONData(w, http.StatusOK, map[string]any{"rows": rows}, grouped.Warnings)
}

// DownloadCSV handles GET /v1/sessions/{sid}/summary/csv.
func (h *Handler) DownloadCSV(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	items, err := h.store.SummaryItems(r.Context(), sid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body, err := CSV(Group(items))
	if err != nil {
		h.writeError(w, err)
		return
	}
	obs.IncSummaryExport()
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="material_items.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Clear handles DELETE /v1/sessions/{sid}/summary.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.store.ClearSummary(r.Context(), sid); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, map[string]any{"cleared": true}, nil)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid := chi.URLParam(r, "sid")
	if sid == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "session id is required", nil)
		return "", false
	}
	return sid, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	h.log.Error().Err(err).Msg("summary request failed")
	common.JSONError(w, http.StatusServiceUnavailable, "SESSION_UNAVAILABLE", "session state is unavailable", nil)
}
