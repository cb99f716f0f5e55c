package estimate

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubleoak/estimator-api/internal/common"
	"github.com/doubleoak/estimator-api/internal/export"
)

func testEngine() *Engine {
	return NewEngine(Params{
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
}

func baseFenceInput() FenceInput {
	return FenceInput{
		Category:       "silt_fence",
		Subtype:        "14_gauge",
		TotalLF:        1000,
		WastePct:       2,
		SpacingFt:      8,
		SellPricePerLF: "2.50",
	}
}

func TestComputeFenceBreakdown(t *testing.T) {
	b, err := testEngine().ComputeFence(baseFenceInput(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1020, b.RequiredFt)
	assert.Equal(t, 1000, b.CustomerQty)
	assert.Equal(t, 129, b.Posts)
	assert.Equal(t, 11, b.Rolls)
	assert.Equal(t, 1, b.BillingDays)

	// pricebook absent: defaults apply without failing the computation
	assert.InDelta(t, 0.32, b.FabricPrice, 1e-9)
	assert.InDelta(t, 1.80, b.PostPrice, 1e-9)

	assert.InDelta(t, 326.40, b.FabricCost, 1e-6)
	assert.InDelta(t, 232.20, b.HardwareCost, 1e-6)
	assert.InDelta(t, 558.60, b.MaterialsSubtotal, 1e-6)
	assert.InDelta(t, 558.60*0.0825, b.Tax, 1e-6)
	assert.InDelta(t, 554.34, b.LaborCost, 1e-6)
	assert.InDelta(t, 100, b.FuelCost, 1e-6)

	internal := 558.60 + 558.60*0.0825 + 554.34 + 100
	assert.InDelta(t, internal, b.InternalTotalCost, 1e-6)
	assert.InDelta(t, internal/1020, b.UnitCostPerLF, 1e-9)

	assert.InDelta(t, 2550, b.SellTotal, 1e-6)
	assert.InDelta(t, 2550-internal, b.GrossProfit, 1e-6)
	assert.InDelta(t, (2550-internal)/2550, b.ProfitMargin, 1e-9)
	assert.True(t, b.MarginOK)
	assert.Equal(t, "14 Gauge Silt Fence", b.Description)
}

func TestComputeFenceZeroFootage(t *testing.T) {
	in := baseFenceInput()
	in.TotalLF = 0
	in.RemovalSelected = true

	b, err := testEngine().ComputeFence(in, 0)
	require.NoError(t, err)

	assert.Zero(t, b.RequiredFt)
	assert.Zero(t, b.Posts)
	assert.Zero(t, b.Rolls)
	assert.Zero(t, b.BillingDays)
	assert.Zero(t, b.FuelCost)
	assert.Zero(t, b.UnitCostPerLF)
	assert.Zero(t, b.RemovalTotal)
	assert.Zero(t, b.SellTotal)
	assert.Zero(t, b.ProfitMargin)
	assert.False(t, math.IsNaN(b.ProfitMargin))
	assert.False(t, math.IsInf(b.UnitCostPerLF, 0))
}

func TestRemovalPricingMinimumJob(t *testing.T) {
	// 500 LF at $2.50: 40% gives $1.00, under the 1.15 short-run floor;
	// 575 total is under the $800 minimum, which re-derives $1.60/LF.
	unit, total := removalPricing(500, 2.50)
	assert.InDelta(t, 1.60, unit, 1e-9)
	assert.InDelta(t, 800, total, 1e-9)
}

func TestRemovalPricingFloors(t *testing.T) {
	// long run: 0.90 floor, no $800 forcing at this size
	unit, total := removalPricing(1020, 2.50)
	assert.InDelta(t, 1.00, unit, 1e-9)
	assert.InDelta(t, 1020, total, 1e-9)

	// high sell rate: 40% beats both floors
	unit, _ = removalPricing(1020, 3.00)
	assert.InDelta(t, 1.20, unit, 1e-9)

	unit, total = removalPricing(0, 2.50)
	assert.Zero(t, unit)
	assert.Zero(t, total)
}

func TestComputeFenceRemovalRevenueExcludedFromMargin(t *testing.T) {
	in := baseFenceInput()
	withRemoval := in
	withRemoval.RemovalSelected = true

	plain, err := testEngine().ComputeFence(in, 0)
	require.NoError(t, err)
	removal, err := testEngine().ComputeFence(withRemoval, 0)
	require.NoError(t, err)

	assert.Greater(t, removal.CustomerSubtotal, plain.CustomerSubtotal)
	assert.InDelta(t, plain.ProfitMargin, removal.ProfitMargin, 1e-12)
	assert.InDelta(t, plain.GrossProfit, removal.GrossProfit, 1e-12)
	assert.InDelta(t, removal.RemovalTotal, removal.RemovalRevenue, 1e-12)
}

func TestComputeFenceCaps(t *testing.T) {
	in := baseFenceInput()
	in.IncludeCaps = true
	in.CapType = "plastic"

	b, err := testEngine().ComputeFence(in, 0)
	require.NoError(t, err)

	assert.Equal(t, b.Posts, b.CapsQty)
	assert.InDelta(t, 1.05, b.CapPrice, 1e-9)
	assert.InDelta(t, float64(b.CapsQty)*1.05, b.CapsCost, 1e-6)
	// caps are taxed with the rest of the materials
	assert.InDelta(t, b.MaterialsSubtotal*0.0825, b.Tax, 1e-6)
	// caps revenue counts toward margin
	assert.InDelta(t, b.SellTotal+b.CapsRevenue-b.InternalTotalCost, b.GrossProfit, 1e-6)
}

func TestComputeFenceCapsRejectedForOrangeFence(t *testing.T) {
	in := FenceInput{Category: "orange_fence", Subtype: "light_duty", TotalLF: 100, SpacingFt: 10, SellPricePerLF: "2.50", IncludeCaps: true, CapType: "plastic"}
	_, err := testEngine().ComputeFence(in, 0)
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VALIDATION", appErr.Code)
}

func TestComputeFenceUnknownSubtype(t *testing.T) {
	in := baseFenceInput()
	in.Subtype = "16_gauge"
	_, err := testEngine().ComputeFence(in, 0)
	assert.Error(t, err)
}

func TestComputeFenceRemoveSalesTax(t *testing.T) {
	in := baseFenceInput()
	in.RemoveSalesTax = true

	b, err := testEngine().ComputeFence(in, 0)
	require.NoError(t, err)
	assert.Zero(t, b.CustomerSalesTax)
	assert.InDelta(t, b.CustomerSubtotal, b.CustomerTotal, 1e-9)
	// internal costing still carries tax
	assert.Greater(t, b.Tax, 0.0)
}

func TestComputeFenceSellPriceRetainsPriorOnGarbage(t *testing.T) {
	in := baseFenceInput()
	in.SellPricePerLF = "2.5."

	b, err := testEngine().ComputeFence(in, 2.75)
	require.NoError(t, err)
	assert.InDelta(t, 2.75, b.SellPricePerLF, 1e-9)
}

func TestBuildLiveLines(t *testing.T) {
	e := testEngine()
	in := baseFenceInput()
	in.RemovalSelected = true
	in.IncludeCaps = true
	in.CapType = "osha"

	b, err := e.ComputeFence(in, 0)
	require.NoError(t, err)
	lines := BuildLiveLines(in, b)
	require.Len(t, lines, 3)

	install := lines[0]
	assert.Equal(t, export.LiveID(export.KindInstall), install.ID)
	assert.InDelta(t, 1000, install.Qty, 1e-9, "customer sees the quantity they asked for, not the padded one")
	assert.Equal(t, "LF", install.Unit)
	assert.InDelta(t, 2.50*1000, install.LineTotal, 1e-6)

	removal := lines[1]
	assert.Equal(t, export.KindRemoval, removal.Kind)
	assert.InDelta(t, b.RemovalUnitPriceLF, removal.UnitPrice, 1e-9)
	assert.InDelta(t, b.RemovalUnitPriceLF*1000, removal.LineTotal, 1e-6)

	caps := lines[2]
	assert.Equal(t, export.KindCaps, caps.Kind)
	assert.InDelta(t, float64(b.CapsQty), caps.Qty, 1e-9)
	assert.Equal(t, "Safety Caps (OSHA)", caps.Description)

	// ids are deterministic across evaluation passes
	again := BuildLiveLines(in, b)
	for i := range lines {
		assert.Equal(t, lines[i].ID, again[i].ID)
	}
}

func TestBuildLiveLinesSkipsRemovalAtZeroFootage(t *testing.T) {
	in := baseFenceInput()
	in.TotalLF = 0
	in.RemovalSelected = true

	b, err := testEngine().ComputeFence(in, 0)
	require.NoError(t, err)
	lines := BuildLiveLines(in, b)
	require.Len(t, lines, 1)
	assert.Equal(t, export.KindInstall, lines[0].Kind)
	assert.Zero(t, lines[0].LineTotal)
}

func TestComputeUnit(t *testing.T) {
	in := UnitInput{
		Category:            "rock_filter_dam",
		Qty:                 10,
		MaterialCostPerUnit: 100,
		LaborMinutesPerUnit: 45,
		SellPricePerUnit:    "250",
	}
	b, err := testEngine().ComputeUnit(in, 0)
	require.NoError(t, err)

	assert.Equal(t, "EA", b.Unit)
	assert.Equal(t, "Rock Filter Dam", b.Description)
	assert.InDelta(t, 1000, b.MaterialsSubtotal, 1e-6)
	assert.InDelta(t, 82.50, b.Tax, 1e-6)
	assert.InDelta(t, 450, b.TotalMinutes, 1e-9)
	assert.Equal(t, 1, b.BillingDays)
	assert.InDelta(t, 554.34, b.LaborCost, 1e-6)
	assert.InDelta(t, 100, b.FuelCost, 1e-6)

	allIn := 1000 + 82.50 + 554.34 + 100.0
	assert.InDelta(t, allIn/10, b.UnitCost, 1e-9)
	assert.InDelta(t, 2500, b.SellTotal, 1e-6)
	assert.InDelta(t, (250-allIn/10)/250, b.ProfitMargin, 1e-9)
	assert.InDelta(t, 2500-allIn, b.GrossProfit, 1e-6)
	assert.True(t, b.MarginOK)
}

func TestComputeUnitZeroQty(t *testing.T) {
	b, err := testEngine().ComputeUnit(UnitInput{Category: "aggregate", SellPricePerUnit: "62.50"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "TON", b.Unit)
	assert.Zero(t, b.BillingDays)
	assert.Zero(t, b.FuelCost)
	assert.Zero(t, b.UnitCost)
	assert.Zero(t, b.SellTotal)
	assert.False(t, math.IsNaN(b.ProfitMargin))
}

func TestComputeUnitMinutesScheduleSecondDay(t *testing.T) {
	in := UnitInput{
		Category:            "inlet_protection",
		Qty:                 12,
		MaterialCostPerUnit: 40,
		LaborMinutesPerUnit: 50, // 600 minutes > one 480-minute day
		SellPricePerUnit:    "150",
	}
	b, err := testEngine().ComputeUnit(in, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, b.BillingDays)
	assert.InDelta(t, 2*554.34, b.LaborCost, 1e-6)
	assert.InDelta(t, 200, b.FuelCost, 1e-6)
}

func TestToSummaryEntry(t *testing.T) {
	in := UnitInput{Category: "aggregate", Qty: 24, MaterialCostPerUnit: 31.50, LaborMinutesPerUnit: 6, SellPricePerUnit: "62.50"}
	b, err := testEngine().ComputeUnit(in, 0)
	require.NoError(t, err)

	entry := ToSummaryEntry(in, b)
	assert.Equal(t, "Aggregate", entry.SKU)
	assert.Equal(t, "TON", entry.Unit)
	assert.InDelta(t, 24, entry.Qty, 1e-9)
	assert.Equal(t, "aggregate", entry.SourcePage)
	assert.Contains(t, entry.Notes, "6 min/unit")
	assert.Contains(t, entry.Notes, "$31.50/unit")
}
