package pricebook

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/doubleoak/estimator-api/internal/common"
	"github.com/doubleoak/estimator-api/internal/lock"
	"github.com/doubleoak/estimator-api/internal/obs"
)

// Handler exposes price resolution and reload endpoints.
type Handler struct {
	book   *Book
	locker *lock.Locker
}

// HandlerConfig configures the Handler dependencies. Locker is optional;
// when set, reloads are serialized across replicas.
type HandlerConfig struct {
	Book   *Book
	Locker *lock.Locker
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{book: cfg.Book, locker: cfg.Locker}
}

// Price handles GET /v1/pricebook/price?sku=&unit=&default=.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	if h.book == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricebook not configured", nil)
		return
	}
	q := r.URL.Query()
	sku := q.Get("sku")
	if sku == "" {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "sku is required", nil)
		return
	}
	unit := q.Get("unit")

	if raw := q.Get("default"); raw != "" {
		def, err := strconv.ParseFloat(raw, 64)
		if err != nil || def < 0 {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION", "default must be a non-negative number", nil)
			return
		}
		price, warning := h.book.PriceOrDefault(sku, unit, def)
		var warnings []string
		if warning != "" {
			warnings = append(warnings, warning)
			obs.IncPricebookFallback()
		}
		common.JSONData(w, http.StatusOK, priceBody{SKU: sku, Unit: unit, Price: price, Source: sourceFor(warning)}, warnings)
		return
	}

	res := h.book.Lookup(sku, unit)
	switch res.Status {
	case StatusOK:
		common.JSONData(w, http.StatusOK, priceBody{SKU: sku, Unit: unit, Price: res.Price, Source: "pricebook"}, nil)
	case StatusUnavailable:
		common.JSONError(w, http.StatusServiceUnavailable, "PRICEBOOK_UNAVAILABLE", "pricebook is not loaded", nil)
	default:
		common.JSONError(w, http.StatusNotFound, "PRICE_NOT_FOUND", "no price for sku "+sku, nil)
	}
}

// Reload handles POST /v1/pricebook/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.book == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricebook not configured", nil)
		return
	}
	reload := func(context.Context) error { return h.book.Reload() }
	var err error
	if h.locker != nil {
		err = h.locker.TryWithLock(r.Context(), "pricebook:reload", 30*time.Second, reload)
	} else {
		err = reload(r.Context())
	}
	if errors.Is(err, lock.ErrHeld) {
		common.JSONError(w, http.StatusConflict, "RELOAD_IN_PROGRESS", "another reload is already running", nil)
		return
	}
	if err != nil {
		common.JSONError(w, http.StatusServiceUnavailable, "PRICEBOOK_UNAVAILABLE", err.Error(), nil)
		return
	}
	common.JSONData(w, http.StatusOK, reloadBody{
		Rows:     len(h.book.Rows()),
		LoadedAt: h.book.LoadedAt(),
	}, nil)
}

type priceBody struct {
	SKU    string  `json:"sku"`
	Unit   string  `json:"unit,omitempty"`
	Price  float64 `json:"price"`
	Source string  `json:"source"`
}

type reloadBody struct {
	Rows     int       `json:"rows"`
	LoadedAt time.Time `json:"loadedAt"`
}

func sourceFor(warning string) string {
	if warning == "" {
		return "pricebook"
	}
	return "default"
}
