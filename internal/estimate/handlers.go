package estimate

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/doubleoak/estimator-api/internal/common"
	"github.com/doubleoak/estimator-api/internal/export"
	"github.com/doubleoak/estimator-api/internal/obs"
	"github.com/doubleoak/estimator-api/internal/session"
	"github.com/doubleoak/estimator-api/internal/summary"
)

// Handler exposes the estimate evaluation endpoints. Each POST is one
// evaluation pass: recompute, apply signature locking, persist the live
// pack, and return the refreshed preview.
type Handler struct {
	engine   *Engine
	store    *session.Store
	validate *validator.Validate
	log      zerolog.Logger
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Engine   *Engine
	Store    *session.Store
	Validate *validator.Validate
	Logger   zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		engine:   cfg.Engine,
		store:    cfg.Store,
		validate: cfg.Validate,
		log:      cfg.Logger.With().Str("component", "estimate_http").Logger(),
	}
}

type fenceResponse struct {
	Breakdown  FenceBreakdown    `json:"breakdown"`
	LiveLines  []export.LineItem `json:"liveLines"`
	Preview    []export.LineItem `json:"preview"`
	Totals     export.Totals     `json:"totals"`
	AutoLocked int               `json:"autoLocked"`
}

// Fence handles POST /v1/sessions/{sid}/estimates/fence.
func (h *Handler) Fence(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	if sid == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "session id is required", nil)
		return
	}
	var in FenceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid json body", nil)
		return
	}
	if err := h.validate.Struct(in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid estimate input", validationDetails(err))
		return
	}

	ctx := r.Context()
	prices, err := h.store.SellPrices(ctx, sid)
	if err != nil {
		h.writeError(w, err)
		return
	}

	b, err := h.engine.ComputeFence(in, prices[in.Category])
	if err != nil {
		h.writeError(w, err)
		return
	}

	live := BuildLiveLines(in, b)
	state, err := h.store.ExportState(ctx, sid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	autoLocked := state.LockOnKeyChange(in.Key(), live)
	obs.IncLinesLocked("signature_change", autoLocked)

	if err := h.store.SaveExportState(ctx, sid, state); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.SaveLiveLines(ctx, sid, live); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.SaveSellPrice(ctx, sid, in.Category, b.SellPricePerLF); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.SaveRemoveTax(ctx, sid, in.RemoveSalesTax); err != nil {
		h.writeError(w, err)
		return
	}

	preview := state.MergePreview(live)
	totals := export.ComputeTotals(preview, h.engine.params.TaxRate, in.RemoveSalesTax)
	obs.IncEstimate(in.Category)

	common.JSONData(w, http.StatusOK, fenceResponse{
		Breakdown:  b,
		LiveLines:  live,
		Preview:    preview,
		Totals:     totals,
		AutoLocked: autoLocked,
	}, b.Warnings)
}

type unitResponse struct {
	Breakdown    UnitBreakdown `json:"breakdown"`
	SummaryEntry summary.Entry `json:"summaryEntry"`
}

// Unit handles POST /v1/sessions/{sid}/estimates/unit.
func (h *Handler) Unit(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	if sid == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "session id is required", nil)
		return
	}
	var in UnitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid json body", nil)
		return
	}
	if err := h.validate.Struct(in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid estimate input", validationDetails(err))
		return
	}

	ctx := r.Context()
	prices, err := h.store.SellPrices(ctx, sid)
	if err != nil {
		h.writeError(w, err)
		return
	}

	b, err := h.engine.ComputeUnit(in, prices[in.Category])
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.SaveSellPrice(ctx, sid, in.Category, b.SellPricePerUnit); err != nil {
		h.writeError(w, err)
		return
	}
	obs.IncEstimate(in.Category)

	common.JSONData(w, http.StatusOK, unitResponse{
		Breakdown:    b,
		SummaryEntry: ToSummaryEntry(in, b),
	}, b.Warnings)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = "INTERNAL"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	h.log.Error().Err(err).Msg("estimate request failed")
	common.JSONError(w, http.StatusServiceUnavailable, "SESSION_UNAVAILABLE", "session state is unavailable", nil)
}

func validationDetails(err error) any {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
