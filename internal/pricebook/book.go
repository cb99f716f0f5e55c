// Package pricebook resolves material and hardware SKUs to unit prices
// from an Excel workbook. Lookups degrade rather than fail: callers that
// pass a default always get a usable price plus a warning they can surface.
package pricebook

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/doubleoak/estimator-api/internal/common"
)

var (
	// ErrNotFound indicates the SKU (or SKU/unit pair) has no price row.
	ErrNotFound = errors.New("pricebook: sku not found")
	// ErrUnavailable indicates the workbook never loaded or failed to reload.
	ErrUnavailable = errors.New("pricebook: not loaded")
)

// Status classifies a lookup outcome.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	default:
		return "unavailable"
	}
}

// Result is the outcome of a price lookup. Price is meaningful only when
// Status is StatusOK.
type Result struct {
	Status Status
	Price  float64
}

// Row is one normalised pricebook entry.
type Row struct {
	SKU         string  `json:"sku"`
	Description string  `json:"description,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	Price       float64 `json:"price"`
}

// Book holds the loaded price table. It is safe for concurrent lookups;
// Reload swaps the table atomically under the write lock.
type Book struct {
	path  string
	sheet string
	log   zerolog.Logger

	mu       sync.RWMutex
	rows     []Row
	byKey    map[string]float64
	loadedAt time.Time
	lastErr  error
}

// New builds a Book bound to a workbook path. The workbook is not read
// until Reload is called.
func New(path, sheet string, log zerolog.Logger) *Book {
	return &Book{
		path:    path,
		sheet:   sheet,
		log:     log.With().Str("component", "pricebook").Logger(),
		lastErr: ErrUnavailable,
	}
}

// Reload re-reads the workbook from disk. On failure the previously loaded
// table (if any) stays in service and the error is recorded for readiness
// reporting.
func (b *Book) Reload() error {
	rows, index, err := readWorkbook(b.path, b.sheet)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.lastErr = err
		b.log.Error().Err(err).Str("path", b.path).Msg("pricebook reload failed")
		return err
	}
	b.rows = rows
	b.byKey = index
	b.loadedAt = time.Now().UTC()
	b.lastErr = nil
	b.log.Info().Int("rows", len(rows)).Str("path", b.path).Msg("pricebook loaded")
	return nil
}

// Lookup resolves a SKU. A non-empty unit filters the match: a row priced
// under a different unit is a miss, never a substitute. An empty unit takes
// the SKU's first row regardless of unit. Comparisons are case-insensitive.
func (b *Book) Lookup(sku, unit string) Result {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.byKey == nil {
		return Result{Status: StatusUnavailable}
	}
	sku = normalize(sku)
	if sku == "" {
		return Result{Status: StatusNotFound}
	}
	if unit := normalize(unit); unit != "" {
		if price, ok := b.byKey[sku+"|"+unit]; ok {
			return Result{Status: StatusOK, Price: price}
		}
		return Result{Status: StatusNotFound}
	}
	if price, ok := b.byKey[sku+"|"]; ok {
		return Result{Status: StatusOK, Price: price}
	}
	return Result{Status: StatusNotFound}
}

// PriceOrDefault resolves a SKU and substitutes def when the lookup cannot
// produce a price. The returned warning is empty on a clean hit; otherwise
// it is a human-readable note the caller should attach to its response.
func (b *Book) PriceOrDefault(sku, unit string, def float64) (float64, string) {
	res := b.Lookup(sku, unit)
	switch res.Status {
	case StatusOK:
		return res.Price, ""
	case StatusUnavailable:
		return def, fmt.Sprintf("pricebook unavailable; using default $%.2f for %s", def, sku)
	default:
		return def, fmt.Sprintf("no price for %s; using default $%.2f", sku, def)
	}
}

// Loaded reports whether a table is currently in service.
func (b *Book) Loaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byKey != nil
}

// LoadedAt returns when the current table was read. Zero when never loaded.
func (b *Book) LoadedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loadedAt
}

// LastError returns the most recent reload failure, or nil after a
// successful reload.
func (b *Book) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// Rows returns a copy of the loaded table in workbook order.
func (b *Book) Rows() []Row {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Row, len(b.rows))
	copy(out, b.rows)
	return out
}

func readWorkbook(path, sheet string) ([]Row, map[string]float64, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	defer f.Close()

	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sheet %q: %v", ErrUnavailable, sheet, err)
	}
	if len(raw) < 2 {
		return nil, nil, fmt.Errorf("%w: sheet %q has no data rows", ErrUnavailable, sheet)
	}

	cols, err := mapHeader(raw[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rows := make([]Row, 0, len(raw)-1)
	index := make(map[string]float64, len(raw)-1)
	for _, cells := range raw[1:] {
		sku := normalize(cell(cells, cols.sku))
		if sku == "" {
			continue
		}
		priceText := cell(cells, cols.price)
		price := common.ParseMoney(priceText, -1)
		if price < 0 {
			continue
		}
		row := Row{
			SKU:         sku,
			Description: strings.TrimSpace(cell(cells, cols.description)),
			Unit:        normalize(cell(cells, cols.unit)),
			Price:       price,
		}
		rows = append(rows, row)
		// first row wins for duplicate keys, matching workbook reading order
		key := row.SKU + "|" + row.Unit
		if _, ok := index[key]; !ok {
			index[key] = row.Price
		}
		if _, ok := index[row.SKU+"|"]; !ok {
			index[row.SKU+"|"] = row.Price
		}
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: sheet %q yielded no usable rows", ErrUnavailable, sheet)
	}
	return rows, index, nil
}

type headerMap struct {
	sku, description, unit, price int
}

func mapHeader(header []string) (headerMap, error) {
	cols := headerMap{sku: -1, description: -1, unit: -1, price: -1}
	for i, h := range header {
		switch normalize(h) {
		case "sku", "code", "item":
			if cols.sku < 0 {
				cols.sku = i
			}
		case "description", "desc":
			if cols.description < 0 {
				cols.description = i
			}
		case "unit", "uom":
			if cols.unit < 0 {
				cols.unit = i
			}
		case "price", "unit price", "unit_price":
			if cols.price < 0 {
				cols.price = i
			}
		}
	}
	if cols.sku < 0 || cols.price < 0 {
		return cols, fmt.Errorf("header row missing sku/price columns: %v", header)
	}
	return cols, nil
}

func cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
