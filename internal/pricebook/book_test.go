package pricebook

import (
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, sheet string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", sheet)
	for i, row := range rows {
		for j, v := range row {
			col, err := excelize.ColumnNumberToName(j + 1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, col+strconv.Itoa(i+1), v))
		}
	}
	path := filepath.Join(t.TempDir(), "pricebook.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func loadedBook(t *testing.T) *Book {
	t.Helper()
	path := writeWorkbook(t, "pricebook", [][]any{
		{"sku", "description", "unit", "price"},
		{"SF-FABRIC", "Silt fence fabric roll", "EA", "$125.00"},
		{"SF-POST", "T-post 6ft", "EA", 4.15},
		{"SF-CAP", "Safety cap", "EA", 1.05},
		{"RIPRAP", "Rip rap rock", "TON", "62.50"},
		{"riprap", "duplicate (ignored)", "TON", "999"},
		{"", "missing sku (skipped)", "EA", "1.00"},
		{"BAD-PRICE", "unparseable (skipped)", "EA", "n/a"},
	})
	b := New(path, "pricebook", zerolog.Nop())
	require.NoError(t, b.Reload())
	return b
}

func TestLookup(t *testing.T) {
	b := loadedBook(t)

	res := b.Lookup("SF-FABRIC", "EA")
	assert.Equal(t, StatusOK, res.Status)
	assert.InDelta(t, 125.00, res.Price, 1e-9)

	// unit-less fallback and case folding
	res = b.Lookup("sf-post", "")
	assert.Equal(t, StatusOK, res.Status)
	assert.InDelta(t, 4.15, res.Price, 1e-9)

	// a unit that has no row is a miss, not a substitute from another unit
	assert.Equal(t, StatusNotFound, b.Lookup("RIPRAP", "CY").Status)
	assert.Equal(t, StatusNotFound, b.Lookup("SF-POST", "LF").Status)

	// first duplicate row wins
	assert.InDelta(t, 62.50, b.Lookup("RIPRAP", "TON").Price, 1e-9)

	assert.Equal(t, StatusNotFound, b.Lookup("NOPE", "EA").Status)
	assert.Equal(t, StatusNotFound, b.Lookup("BAD-PRICE", "EA").Status)
	assert.Equal(t, StatusNotFound, b.Lookup("", "EA").Status)
}

func TestLookupUnavailableBeforeLoad(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "missing.xlsx"), "pricebook", zerolog.Nop())
	assert.Equal(t, StatusUnavailable, b.Lookup("SF-POST", "EA").Status)
	assert.False(t, b.Loaded())
	assert.ErrorIs(t, b.LastError(), ErrUnavailable)
}

func TestPriceOrDefault(t *testing.T) {
	b := loadedBook(t)

	price, warning := b.PriceOrDefault("SF-CAP", "EA", 9.99)
	assert.InDelta(t, 1.05, price, 1e-9)
	assert.Empty(t, warning)

	price, warning = b.PriceOrDefault("unknown-sku", "EA", 1.05)
	assert.InDelta(t, 1.05, price, 1e-9)
	assert.Contains(t, warning, "no price for unknown-sku")

	// known sku under a different unit substitutes the default and warns
	price, warning = b.PriceOrDefault("SF-POST", "LF", 2.25)
	assert.InDelta(t, 2.25, price, 1e-9)
	assert.Contains(t, warning, "no price for SF-POST")

	empty := New(filepath.Join(t.TempDir(), "missing.xlsx"), "pricebook", zerolog.Nop())
	price, warning = empty.PriceOrDefault("SF-CAP", "EA", 2.00)
	assert.InDelta(t, 2.00, price, 1e-9)
	assert.Contains(t, warning, "unavailable")
}

func TestReloadKeepsServingOnFailure(t *testing.T) {
	b := loadedBook(t)
	require.True(t, b.Loaded())

	b.path = filepath.Join(t.TempDir(), "gone.xlsx")
	err := b.Reload()
	require.Error(t, err)
	assert.ErrorIs(t, b.LastError(), ErrUnavailable)

	// previous table still answers
	assert.Equal(t, StatusOK, b.Lookup("SF-POST", "EA").Status)
}

func TestReloadRejectsEmptySheet(t *testing.T) {
	path := writeWorkbook(t, "pricebook", [][]any{
		{"sku", "description", "unit", "price"},
	})
	b := New(path, "pricebook", zerolog.Nop())
	assert.ErrorIs(t, b.Reload(), ErrUnavailable)
}

func TestReloadRejectsMissingColumns(t *testing.T) {
	path := writeWorkbook(t, "pricebook", [][]any{
		{"name", "cost"},
		{"SF-POST", "4.15"},
	})
	b := New(path, "pricebook", zerolog.Nop())
	assert.ErrorIs(t, b.Reload(), ErrUnavailable)
}

func TestPriceHandler(t *testing.T) {
	h := NewHandler(HandlerConfig{Book: loadedBook(t)})

	rec := httptest.NewRecorder()
	h.Price(rec, httptest.NewRequest("GET", "/v1/pricebook/price?sku=SF-POST&unit=EA", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"price":4.15`)
	assert.Contains(t, rec.Body.String(), `"source":"pricebook"`)

	rec = httptest.NewRecorder()
	h.Price(rec, httptest.NewRequest("GET", "/v1/pricebook/price?sku=unknown&default=1.05", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"price":1.05`)
	assert.Contains(t, rec.Body.String(), `"source":"default"`)
	assert.Contains(t, rec.Body.String(), "warnings")

	rec = httptest.NewRecorder()
	h.Price(rec, httptest.NewRequest("GET", "/v1/pricebook/price?sku=unknown", nil))
	assert.Equal(t, 404, rec.Code)

	rec = httptest.NewRecorder()
	h.Price(rec, httptest.NewRequest("GET", "/v1/pricebook/price", nil))
	assert.Equal(t, 400, rec.Code)
}
