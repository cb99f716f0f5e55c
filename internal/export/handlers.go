package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/doubleoak/estimator-api/internal/common"
	"github.com/doubleoak/estimator-api/internal/obs"
)

// SessionStore is the slice of the session store the cart endpoints use.
// *session.Store satisfies it.
type SessionStore interface {
	ExportState(ctx context.Context, sid string) (State, error)
	SaveExportState(ctx context.Context, sid string, state State) error
	LiveLines(ctx context.Context, sid string) ([]LineItem, error)
	RemoveTax(ctx context.Context, sid string) (bool, error)
	MarkClearPending(ctx context.Context, sid string) error
	ClearPending(ctx context.Context, sid string) (bool, error)
	UnmarkClearPending(ctx context.Context, sid string) error
}

// Handler exposes the export cart endpoints. The cart merges the live pack
// from the session's latest evaluation with the locked lines it stores.
type Handler struct {
	store   SessionStore
	taxRate float64
	log     zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Store   SessionStore
	TaxRate float64
	Logger  zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:   cfg.Store,
		taxRate: cfg.TaxRate,
		log:     cfg.Logger.With().Str("component", "export_http").Logger(),
	}
}

type previewResponse struct {
	Preview       []LineItem `json:"preview"`
	LockedCount   int        `json:"lockedCount"`
	HiddenLiveIDs []string   `json:"hiddenLiveIds,omitempty"`
	Totals        Totals     `json:"totals"`
	Empty         bool       `json:"empty"`
}

func (h *Handler) buildPreview(state State, live []LineItem, removeTax bool) previewResponse {
	merged := state.MergePreview(live)
	return previewResponse{
		Preview:       merged,
		LockedCount:   len(state.LockedLines),
		HiddenLiveIDs: state.HiddenLiveIDs,
		Totals:        ComputeTotals(merged, h.taxRate, removeTax),
		Empty:         len(merged) == 0,
	}
}

// Get handles GET /v1/sessions/{sid}/export.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.sessionID(w, r); !ok {
		return
	}
	state, live, removeTax, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, h.buildPreview(state, live, removeTax), nil)
}

// Add handles POST /v1/sessions/{sid}/export/add: commits every visible
// live line as a new locked entry.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	state, live, removeTax, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	added := state.Add(live)
	obs.IncLinesLocked("add", added)
	if err := h.store.SaveExportState(r.Context(), sid, state); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, h.buildPreview(state, live, removeTax), nil)
}

// Seed handles POST /v1/sessions/{sid}/export/seed: appends the synthetic
// demo row, available only while the cart is empty.
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	state, live, removeTax, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(state.MergePreview(live)) > 0 {
		common.JSONError(w, http.StatusConflict, "CART_NOT_EMPTY", "seed row is only available for an empty cart", nil)
		return
	}
	state.LockedLines = append(state.LockedLines, SeedRow())
	if err := h.store.SaveExportState(r.Context(), sid, state); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, h.buildPreview(state, live, removeTax), nil)
}

// Remove handles DELETE /v1/sessions/{sid}/export/lines/{id}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	state, live, removeTax, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := state.Remove(id, live); err != nil {
		if errors.Is(err, ErrLineNotFound) {
			common.JSONError(w, http.StatusNotFound, "LINE_NOT_FOUND", "no line with id "+id, nil)
			return
		}
		h.writeError(w, err)
		return
	}
	if err := h.store.SaveExportState(r.Context(), sid, state); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, h.buildPreview(state, live, removeTax), nil)
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
	Cancel  bool `json:"cancel"`
}

type clearResponse struct {
	Pending bool `json:"pending"`
	Cleared bool `json:"cleared"`
}

// Clear handles POST /v1/sessions/{sid}/export/clear with a two-step
// confirmation: the first call arms the clear, a confirming call within
// the arming window performs it, and a cancel disarms it.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req clearRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	ctx := r.Context()

	if req.Cancel {
		if err := h.store.UnmarkClearPending(ctx, sid); err != nil {
			h.writeError(w, err)
			return
		}
		common.JSONData(w, http.StatusOK, clearResponse{}, nil)
		return
	}
	if !req.Confirm {
		if err := h.store.MarkClearPending(ctx, sid); err != nil {
			h.writeError(w, err)
			return
		}
		common.JSONData(w, http.StatusOK, clearResponse{Pending: true}, nil)
		return
	}

	armed, err := h.store.ClearPending(ctx, sid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !armed {
		common.JSONError(w, http.StatusConflict, "CLEAR_NOT_ARMED", "request the clear before confirming it", nil)
		return
	}

	state, live, removeTax, err := h.load(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	state.Clear(live)
	if err := h.store.SaveExportState(ctx, sid, state); err != nil {
		h.writeError(w, err)
		return
	}
	resp := h.buildPreview(state, live, removeTax)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"pending": false,
			"cleared": true,
			"preview": resp.Preview,
			"totals":  resp.Totals,
		},
	})
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid := chi.URLParam(r, "sid")
	if sid == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "session id is required", nil)
		return "", false
	}
	return sid, true
}

func (h *Handler) load(r *http.Request) (State, []LineItem, bool, error) {
	ctx := r.Context()
	sid := chi.URLParam(r, "sid")
	state, err := h.store.ExportState(ctx, sid)
	if err != nil {
		return State{}, nil, false, err
	}
	live, err := h.store.LiveLines(ctx, sid)
	if err != nil {
		return State{}, nil, false, err
	}
	removeTax, err := h.store.RemoveTax(ctx, sid)
	if err != nil {
		return State{}, nil, false, err
	}
	return state, live, removeTax, nil
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
	h.log.Error().Err(err).Msg("export request failed")
	common.JSONError(w, http.StatusServiceUnavailable, "SESSION_UNAVAILABLE", "session state is unavailable", nil)
}
