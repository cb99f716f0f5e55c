// Package summary folds committed material entries from every estimating
// category into one per-SKU table for the material summary view.
package summary

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// Entry is one committed material line as sent by an estimating category.
type Entry struct {
	SKU         string   `json:"sku" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Unit        string   `json:"unit" validate:"required"`
	Qty         float64  `json:"qty" validate:"gte=0"`
	SourcePage  string   `json:"sourcePage,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	AltQtyLabel string   `json:"altQtyLabel,omitempty"`
	AltQtyValue *float64 `json:"altQtyValue,omitempty"`
}

// Grouped is the aggregation result: rows in first-appearance order plus
// warnings about secondary quantities that could not be combined.
type Grouped struct {
	Rows     []Entry  `json:"rows"`
	Warnings []string `json:"warnings,omitempty"`
}

// Group aggregates entries by SKU. Quantities always sum; the secondary
// quantity sums only when its label matches the first-seen label for that
// SKU. A label mismatch keeps the stored value and reports a warning
// instead of silently dropping the incompatible amount.
func Group(entries []Entry) Grouped {
	index := make(map[string]int, len(entries))
	var out Grouped
	for _, e := range entries {
		sku := strings.ToLower(strings.TrimSpace(e.SKU))
		if sku == "" {
			continue
		}
		i, ok := index[sku]
		if !ok {
			index[sku] = len(out.Rows)
			stored := e
			if e.AltQtyValue != nil {
				v := *e.AltQtyValue
				stored.AltQtyValue = &v
			}
			out.Rows = append(out.Rows, stored)
			continue
		}
		out.Rows[i].Qty += e.Qty
		if e.AltQtyLabel == "" || e.AltQtyValue == nil {
			continue
		}
		if out.Rows[i].AltQtyLabel == e.AltQtyLabel {
			sum := *e.AltQtyValue
			if out.Rows[i].AltQtyValue != nil {
				sum += *out.Rows[i].AltQtyValue
			}
			out.Rows[i].AltQtyValue = &sum
		} else {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"sku %s: secondary quantity %q not combined with %q",
				e.SKU, e.AltQtyLabel, out.Rows[i].AltQtyLabel))
		}
	}
	return out
}

// FormatDescriptor renders the human descriptor column for a summary row:
// footage with a roll count reads as rolls, per-each hardware as each,
// plain footage as linear feet, anything else as its raw unit.
func FormatDescriptor(unit string, altQtyValue *float64) string {
	u := strings.ToUpper(strings.TrimSpace(unit))
	switch {
	case u == "LF" && altQtyValue != nil:
		return "Rolls"
	case u == "EA":
		return "Each"
	case u == "LF":
		return "Linear Feet"
	default:
		return unit
	}
}

// CSV renders the grouped table as a downloadable material_items.csv body.
func CSV(g Grouped) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"sku", "description", "descriptor", "unit", "qty", "alt_qty_label", "alt_qty_value", "source_page", "notes"}); err != nil {
		return nil, err
	}
	for _, row := range g.Rows {
		alt := ""
		if row.AltQtyValue != nil {
			alt = strconv.FormatFloat(*row.AltQtyValue, 'f', -1, 64)
		}
		rec := []string{
			row.SKU,
			row.Description,
			FormatDescriptor(row.Unit, row.AltQtyValue),
			row.Unit,
			strconv.FormatFloat(row.Qty, 'f', -1, 64),
			row.AltQtyLabel,
			alt,
			row.SourcePage,
			row.Notes,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
