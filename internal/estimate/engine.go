// Package estimate computes cost, revenue, and margin breakdowns for the
// estimating categories and turns them into export cart lines.
package estimate

import (
	"fmt"
	"math"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/doubleoak/estimator-api/internal/common"
	"github.com/doubleoak/estimator-api/internal/config"
	"github.com/doubleoak/estimator-api/internal/export"
	"github.com/doubleoak/estimator-api/internal/obs"
	"github.com/doubleoak/estimator-api/internal/pricebook"
	"github.com/doubleoak/estimator-api/internal/quantity"
	"github.com/doubleoak/estimator-api/internal/summary"
)

// Params are the business constants an Engine computes against.
type Params struct {
	TaxRate             float64
	RollLengthFt        int
	FenceRateLFPerDay   int
	ProductionMinPerDay int
	FuelRatePerDay      float64
	LaborPerDay         float64
	PriceMin            float64
	PriceMax            float64
	MarginTarget        float64
}

// ParamsFromConfig builds engine parameters from the loaded configuration.
func ParamsFromConfig(cfg config.Config) Params {
	return Params{
		TaxRate:             cfg.SalesTaxRate,
		RollLengthFt:        cfg.RollLengthFt,
		FenceRateLFPerDay:   cfg.FenceRateLFPerDay,
		ProductionMinPerDay: cfg.ProductionMinPerDay,
		FuelRatePerDay:      cfg.FuelRatePerDay,
		LaborPerDay:         cfg.LaborPerDay(),
		PriceMin:            cfg.PriceMin,
		PriceMax:            cfg.PriceMax,
		MarginTarget:        cfg.MarginTarget,
	}
}

// Engine computes estimate breakdowns. Stateless apart from its price
// source; safe for concurrent use.
type Engine struct {
	params Params
	book   *pricebook.Book
	log    zerolog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(params Params, book *pricebook.Book, log zerolog.Logger) *Engine {
	return &Engine{
		params: params,
		book:   book,
		log:    log.With().Str("component", "estimate").Logger(),
	}
}

// fenceSpec binds a fence subtype to its material SKUs, fallback prices,
// and customer-facing label.
type fenceSpec struct {
	label         string
	fabricSKU     string
	fabricDefault float64
	postSKU       string
	postDefault   float64
}

var fenceSpecs = map[string]map[string]fenceSpec{
	"silt_fence": {
		"14_gauge": {
			label:         "14 Gauge Silt Fence",
			fabricSKU:     "silt-fence-14g",
			fabricDefault: 0.32,
			postSKU:       "t-post-4ft",
			postDefault:   1.80,
		},
		"12.5_gauge": {
			label:         "12.5 Gauge Silt Fence",
			fabricSKU:     "silt-fence-12g5",
			fabricDefault: 0.38,
			postSKU:       "tx-dot-t-post-4-ft",
			postDefault:   2.15,
		},
	},
	"orange_fence": {
		"light_duty": {
			label:         "Plastic Orange Fence - Light Duty",
			fabricSKU:     "orange-fence-light-duty",
			fabricDefault: 0.30,
			postSKU:       "t-post-6ft",
			postDefault:   2.25,
		},
		"heavy_duty": {
			label:         "Plastic Orange Fence - Heavy Duty",
			fabricSKU:     "orange-fence-heavy-duty",
			fabricDefault: 0.45,
			postSKU:       "t-post-6ft",
			postDefault:   2.25,
		},
	},
}

type capSpec struct {
	label        string
	sku          string
	defaultPrice float64
}

var capSpecs = map[string]capSpec{
	"osha":    {label: "Safety Caps (OSHA)", sku: "cap-osha", defaultPrice: 3.90},
	"plastic": {label: "Safety Caps (Plastic)", sku: "cap-plastic", defaultPrice: 1.05},
}

var unitLabels = map[string]struct {
	unit        string
	description string
	sourcePage  string
}{
	"rock_filter_dam":  {unit: "EA", description: "Rock Filter Dam", sourcePage: "rock_filter_dams"},
	"aggregate":        {unit: "TON", description: "Aggregate", sourcePage: "aggregate"},
	"inlet_protection": {unit: "EA", description: "Inlet Protection", sourcePage: "inlet_protection"},
}

// ComputeFence evaluates one fencing estimate. priorSell is the last valid
// sell price for this category, used when the submitted price text does
// not parse; the resolved price comes back in the breakdown for the caller
// to persist.
func (e *Engine) ComputeFence(in FenceInput, priorSell float64) (FenceBreakdown, error) {
	spec, ok := fenceSpecs[in.Category][in.Subtype]
	if !ok {
		return FenceBreakdown{}, common.NewAppError("VALIDATION", fmt.Sprintf("unknown subtype %q for category %q", in.Subtype, in.Category), http.StatusBadRequest, nil)
	}
	if in.IncludeCaps && in.Category != "silt_fence" {
		return FenceBreakdown{}, common.NewAppError("VALIDATION", "caps are only available for silt fence", http.StatusBadRequest, nil)
	}

	var b FenceBreakdown
	b.Description = spec.label
	b.SellPricePerLF = common.Clamp(common.ParseMoney(in.SellPricePerLF, priorSell), e.params.PriceMin, e.params.PriceMax)

	b.RequiredFt = quantity.Required(in.TotalLF, in.WastePct)
	b.CustomerQty = int(common.ClampNonNegative(in.TotalLF))
	b.Posts = quantity.Posts(b.RequiredFt, in.SpacingFt)
	b.Rolls = quantity.Rolls(b.RequiredFt, e.params.RollLengthFt)
	b.BillingDays = quantity.CrewDays(b.RequiredFt, e.params.FenceRateLFPerDay)

	b.FabricSKU = spec.fabricSKU
	b.FabricPrice = e.priceOrWarn(&b.Warnings, spec.fabricSKU, "lf", spec.fabricDefault)
	b.PostSKU = spec.postSKU
	b.PostPrice = e.priceOrWarn(&b.Warnings, spec.postSKU, "ea", spec.postDefault)

	if in.IncludeCaps && in.CapType != "" && b.Posts > 0 {
		cap := capSpecs[in.CapType]
		b.CapSKU = cap.sku
		b.CapPrice = e.priceOrWarn(&b.Warnings, cap.sku, "ea", cap.defaultPrice)
		b.CapsQty = b.Posts
	}

	b.FabricCost = float64(b.RequiredFt) * b.FabricPrice
	b.HardwareCost = float64(b.Posts) * b.PostPrice
	b.CapsCost = float64(b.CapsQty) * b.CapPrice
	b.MaterialsSubtotal = b.FabricCost + b.HardwareCost + b.CapsCost
	b.Tax = b.MaterialsSubtotal * e.params.TaxRate

	b.LaborCost = float64(b.BillingDays) * e.params.LaborPerDay
	if b.RequiredFt > 0 {
		b.FuelCost = e.params.FuelRatePerDay * float64(maxInt(1, b.BillingDays))
	}

	b.InternalTotalCost = b.MaterialsSubtotal + b.Tax + b.LaborCost + b.FuelCost
	if b.RequiredFt > 0 {
		b.UnitCostPerLF = b.InternalTotalCost / float64(b.RequiredFt)
	}

	if in.RemovalSelected {
		b.RemovalUnitPriceLF, b.RemovalTotal = removalPricing(b.RequiredFt, b.SellPricePerLF)
	}

	if b.RequiredFt > 0 {
		b.SellTotal = b.SellPricePerLF * float64(b.RequiredFt)
	}
	b.CapsRevenue = b.CapPrice * float64(b.CapsQty)
	b.RemovalRevenue = b.RemovalTotal
	b.CustomerSubtotal = b.SellTotal + b.CapsRevenue + b.RemovalRevenue
	if !in.RemoveSalesTax {
		b.CustomerSalesTax = b.CustomerSubtotal * e.params.TaxRate
	}
	b.CustomerTotal = b.CustomerSubtotal + b.CustomerSalesTax

	// margin reflects install-only profitability: caps revenue counts,
	// removal revenue does not
	marginBase := b.SellTotal + b.CapsRevenue
	b.GrossProfit = marginBase - b.InternalTotalCost
	if marginBase > 0 {
		b.ProfitMargin = b.GrossProfit / marginBase
	}
	if b.SellPricePerLF > 0 && b.RequiredFt > 0 {
		b.InstallOnlyMargin = (b.SellPricePerLF - b.UnitCostPerLF) / b.SellPricePerLF
	}
	b.MarginOK = b.ProfitMargin >= e.params.MarginTarget

	return b, nil
}

// removalPricing applies the fence removal sub-rule: 40% of the sell rate
// with a per-LF floor of 1.15 under 800 ft (0.90 at or above), then a
// minimum billable removal job of $800 expressed back as a per-LF rate.
func removalPricing(requiredFt int, sellPerLF float64) (unit, total float64) {
	if requiredFt <= 0 {
		return 0, 0
	}
	unit = sellPerLF * 0.40
	floor := 0.90
	if requiredFt < 800 {
		floor = 1.15
	}
	if unit < floor {
		unit = floor
	}
	total = unit * float64(requiredFt)
	if total < 800 {
		total = 800
		unit = total / float64(requiredFt)
	}
	return unit, total
}

// BuildLiveLines derives the live export lines for a fence evaluation.
// Line quantities are customer-facing (without waste padding); internal
// costing already happened against the padded quantity. Ids are
// deterministic so re-evaluation never duplicates rows.
func BuildLiveLines(in FenceInput, b FenceBreakdown) []export.LineItem {
	lines := []export.LineItem{{
		ID:          export.LiveID(export.KindInstall),
		Kind:        export.KindInstall,
		Qty:         float64(b.CustomerQty),
		Unit:        "LF",
		Description: b.Description,
		UnitPrice:   b.SellPricePerLF,
		LineTotal:   b.SellPricePerLF * float64(b.CustomerQty),
	}}
	if in.RemovalSelected && b.RequiredFt > 0 {
		lines = append(lines, export.LineItem{
			ID:          export.LiveID(export.KindRemoval),
			Kind:        export.KindRemoval,
			Qty:         float64(b.CustomerQty),
			Unit:        "LF",
			Description: "Fence Removal",
			UnitPrice:   b.RemovalUnitPriceLF,
			LineTotal:   b.RemovalUnitPriceLF * float64(b.CustomerQty),
		})
	}
	if b.CapsQty > 0 {
		lines = append(lines, export.LineItem{
			ID:          export.LiveID(export.KindCaps),
			Kind:        export.KindCaps,
			Qty:         float64(b.CapsQty),
			Unit:        "EA",
			Description: capSpecs[in.CapType].label,
			UnitPrice:   b.CapPrice,
			LineTotal:   b.CapPrice * float64(b.CapsQty),
		})
	}
	return lines
}

// ComputeUnit evaluates a per-unit category estimate. Labor is scheduled
// as whole crew-days from total minutes of work against the configured
// minutes-per-day capacity.
func (e *Engine) ComputeUnit(in UnitInput, priorSell float64) (UnitBreakdown, error) {
	meta, ok := unitLabels[in.Category]
	if !ok {
		return UnitBreakdown{}, common.NewAppError("VALIDATION", fmt.Sprintf("unknown category %q", in.Category), http.StatusBadRequest, nil)
	}

	var b UnitBreakdown
	b.Unit = meta.unit
	b.Description = in.Description
	if b.Description == "" {
		b.Description = meta.description
	}
	b.Qty = common.ClampNonNegative(in.Qty)
	b.SellPricePerUnit = common.Clamp(common.ParseMoney(in.SellPricePerUnit, priorSell), e.params.PriceMin, e.params.PriceMax)

	b.MaterialCost = common.ClampNonNegative(in.MaterialCostPerUnit)
	if in.SKU != "" {
		b.MaterialCost = e.priceOrWarn(&b.Warnings, in.SKU, meta.unit, b.MaterialCost)
	}

	b.MaterialsSubtotal = b.Qty * b.MaterialCost
	b.Tax = b.MaterialsSubtotal * e.params.TaxRate

	b.TotalMinutes = b.Qty * common.ClampNonNegative(in.LaborMinutesPerUnit)
	b.BillingDays = quantity.CrewDays(int(math.Ceil(b.TotalMinutes)), e.params.ProductionMinPerDay)
	b.LaborCost = float64(b.BillingDays) * e.params.LaborPerDay
	if b.Qty > 0 {
		b.FuelCost = e.params.FuelRatePerDay * float64(maxInt(1, b.BillingDays))
	}

	allIn := b.MaterialsSubtotal + b.Tax + b.LaborCost + b.FuelCost
	if b.Qty > 0 {
		b.UnitCost = allIn / b.Qty
		b.SellTotal = b.SellPricePerUnit * b.Qty
	}
	b.GrossProfit = b.SellTotal - allIn
	if b.SellPricePerUnit > 0 {
		b.ProfitMargin = (b.SellPricePerUnit - b.UnitCost) / b.SellPricePerUnit
	}
	b.MarginOK = b.ProfitMargin >= e.params.MarginTarget

	return b, nil
}

// ToSummaryEntry converts a unit evaluation into a material summary entry,
// carrying the labor/material assumptions in the notes column.
func ToSummaryEntry(in UnitInput, b UnitBreakdown) summary.Entry {
	meta := unitLabels[in.Category]
	sku := in.SKU
	if sku == "" {
		sku = b.Description
	}
	return summary.Entry{
		SKU:         sku,
		Description: b.Description,
		Unit:        b.Unit,
		Qty:         b.Qty,
		SourcePage:  meta.sourcePage,
		Notes: fmt.Sprintf("Labor %.0f min/unit; Mat $%.2f/unit",
			in.LaborMinutesPerUnit, b.MaterialCost),
	}
}

func (e *Engine) priceOrWarn(warnings *[]string, sku, unit string, def float64) float64 {
	if e.book == nil {
		return def
	}
	price, warning := e.book.PriceOrDefault(sku, unit, def)
	if warning != "" {
		*warnings = append(*warnings, warning)
		obs.IncPricebookFallback()
		e.log.Warn().Str("sku", sku).Float64("default", def).Msg("price lookup fell back to default")
	}
	return price
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
