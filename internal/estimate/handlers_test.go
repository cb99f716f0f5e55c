package estimate_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubleoak/estimator-api/internal/estimate"
	"github.com/doubleoak/estimator-api/internal/session"
)

func testRouter(t *testing.T) *chi.Mux {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	engine := estimate.NewEngine(estimate.Params{
		TaxRate:             0.0825,
		RollLengthFt:        100,
		FenceRateLFPerDay:   3000,
		ProductionMinPerDay: 480,
		FuelRatePerDay:      100,
		LaborPerDay:         554.34,
		PriceMin:            0,
		PriceMax:            1000,
		MarginTarget:        0.30,
	}, nil, zerolog.Nop())

	h := estimate.NewHandler(estimate.HandlerConfig{
		Engine:   engine,
		Store:    session.NewStore(client, time.Hour),
		Validate: validator.New(),
		Logger:   zerolog.Nop(),
	})

	r := chi.NewRouter()
	r.Post("/v1/sessions/{sid}/estimates/fence", h.Fence)
	r.Post("/v1/sessions/{sid}/estimates/unit", h.Unit)
	return r
}

func postJSON(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type fenceEnvelope struct {
	Data struct {
		Breakdown struct {
			RequiredFt     int     `json:"requiredFt"`
			SellPricePerLF float64 `json:"sellPricePerLf"`
			ProfitMargin   float64 `json:"profitMargin"`
		} `json:"breakdown"`
		LiveLines  []map[string]any `json:"liveLines"`
		Preview    []map[string]any `json:"preview"`
		AutoLocked int              `json:"autoLocked"`
	} `json:"data"`
	Warnings []string `json:"warnings"`
}

func TestFenceEvaluationPass(t *testing.T) {
	r := testRouter(t)

	body := `{"category":"silt_fence","subtype":"14_gauge","totalLf":1000,"wastePct":2,"spacingFt":8,"sellPricePerLf":"2.50"}`
	rec := postJSON(t, r, "/v1/sessions/s1/estimates/fence", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env fenceEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, 1020, env.Data.Breakdown.RequiredFt)
	assert.Zero(t, env.Data.AutoLocked)
	require.Len(t, env.Data.LiveLines, 1)
	assert.Len(t, env.Data.Preview, 1)
}

func TestFenceSignatureChangeAutoLocks(t *testing.T) {
	r := testRouter(t)

	base := `{"category":"silt_fence","subtype":"14_gauge","totalLf":1000,"wastePct":2,"spacingFt":8,"sellPricePerLf":"2.50","removalSelected":true}`
	rec := postJSON(t, r, "/v1/sessions/s1/estimates/fence", base)
	require.Equal(t, http.StatusOK, rec.Code)

	// same inputs again: idempotent, nothing locks
	rec = postJSON(t, r, "/v1/sessions/s1/estimates/fence", base)
	var env fenceEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Zero(t, env.Data.AutoLocked)
	assert.Len(t, env.Data.Preview, 2)

	// spacing changes: the previous live pack locks, preview shows both
	changed := strings.Replace(base, `"spacingFt":8`, `"spacingFt":4`, 1)
	rec = postJSON(t, r, "/v1/sessions/s1/estimates/fence", changed)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, 2, env.Data.AutoLocked)
	assert.Len(t, env.Data.Preview, 4)
}

func TestFenceSellPriceRetainedAcrossPasses(t *testing.T) {
	r := testRouter(t)

	good := `{"category":"silt_fence","subtype":"14_gauge","totalLf":1000,"spacingFt":8,"sellPricePerLf":"2.75"}`
	rec := postJSON(t, r, "/v1/sessions/s1/estimates/fence", good)
	require.Equal(t, http.StatusOK, rec.Code)

	garbage := `{"category":"silt_fence","subtype":"14_gauge","totalLf":1000,"spacingFt":8,"sellPricePerLf":"2.7."}`
	rec = postJSON(t, r, "/v1/sessions/s1/estimates/fence", garbage)
	require.Equal(t, http.StatusOK, rec.Code)

	var env fenceEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.InDelta(t, 2.75, env.Data.Breakdown.SellPricePerLF, 1e-9)
}

func TestFenceValidation(t *testing.T) {
	r := testRouter(t)

	rec := postJSON(t, r, "/v1/sessions/s1/estimates/fence", `{"category":"silt_fence","subtype":"14_gauge","totalLf":100,"spacingFt":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "spacing outside the allowed set")

	rec = postJSON(t, r, "/v1/sessions/s1/estimates/fence", `{"category":"chain_link","subtype":"x","totalLf":100,"spacingFt":8}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, r, "/v1/sessions/s1/estimates/fence", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnitEvaluation(t *testing.T) {
	r := testRouter(t)

	body := `{"category":"rock_filter_dam","qty":10,"materialCostPerUnit":100,"laborMinutesPerUnit":45,"sellPricePerUnit":"250"}`
	rec := postJSON(t, r, "/v1/sessions/s1/estimates/unit", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env struct {
		Data struct {
			Breakdown struct {
				Unit        string  `json:"unit"`
				BillingDays int     `json:"billingDays"`
				SellTotal   float64 `json:"sellTotal"`
			} `json:"breakdown"`
			SummaryEntry struct {
				SKU string  `json:"sku"`
				Qty float64 `json:"qty"`
			} `json:"summaryEntry"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "EA", env.Data.Breakdown.Unit)
	assert.Equal(t, 1, env.Data.Breakdown.BillingDays)
	assert.InDelta(t, 2500, env.Data.Breakdown.SellTotal, 1e-6)
	assert.Equal(t, "Rock Filter Dam", env.Data.SummaryEntry.SKU)
	assert.InDelta(t, 10, env.Data.SummaryEntry.Qty, 1e-9)
}
