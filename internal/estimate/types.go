package estimate

import (
	"github.com/doubleoak/estimator-api/internal/export"
)

// FenceInput carries one evaluation pass of the fencing estimator form.
// Price fields arrive as money text ("2.50", "$2,500.00"); unparseable
// entries retain the caller's prior valid value.
type FenceInput struct {
	Category        string  `json:"category" validate:"required,oneof=silt_fence orange_fence"`
	Subtype         string  `json:"subtype" validate:"required"`
	TotalLF         float64 `json:"totalLf" validate:"gte=0,lte=1000000"`
	WastePct        float64 `json:"wastePct" validate:"gte=0,lte=100"`
	SpacingFt       int     `json:"spacingFt" validate:"required,oneof=3 4 6 8 10"`
	SellPricePerLF  string  `json:"sellPricePerLf"`
	IncludeCaps     bool    `json:"includeCaps"`
	CapType         string  `json:"capType" validate:"omitempty,oneof=osha plastic"`
	RemovalSelected bool    `json:"removalSelected"`
	RemoveSalesTax  bool    `json:"removeSalesTax"`
}

// Key returns the category-defining fingerprint for this input, driving
// the export cart's auto-locking.
func (in FenceInput) Key() export.CategoryKey {
	return export.CategoryKey{Category: in.Category, Subtype: in.Subtype, SpacingFt: in.SpacingFt}
}

// FenceBreakdown is the full cost/margin picture for one fence evaluation.
type FenceBreakdown struct {
	// derived quantities
	RequiredFt   int `json:"requiredFt"`
	CustomerQty  int `json:"customerQty"`
	Posts        int `json:"posts"`
	Rolls        int `json:"rolls"`
	CapsQty      int `json:"capsQty"`
	BillingDays  int `json:"billingDays"`

	// resolved prices
	FabricSKU      string  `json:"fabricSku"`
	FabricPrice    float64 `json:"fabricPrice"`
	PostSKU        string  `json:"postSku"`
	PostPrice      float64 `json:"postPrice"`
	CapSKU         string  `json:"capSku,omitempty"`
	CapPrice       float64 `json:"capPrice,omitempty"`
	SellPricePerLF float64 `json:"sellPricePerLf"`

	// internal costs
	FabricCost        float64 `json:"fabricCost"`
	HardwareCost      float64 `json:"hardwareCost"`
	CapsCost          float64 `json:"capsCost"`
	MaterialsSubtotal float64 `json:"materialsSubtotal"`
	Tax               float64 `json:"tax"`
	LaborCost         float64 `json:"laborCost"`
	FuelCost          float64 `json:"fuelCost"`
	UnitCostPerLF     float64 `json:"unitCostPerLf"`
	InternalTotalCost float64 `json:"internalTotalCost"`

	// removal sub-rule
	RemovalUnitPriceLF float64 `json:"removalUnitPriceLf"`
	RemovalTotal       float64 `json:"removalTotal"`

	// customer-facing revenue
	SellTotal        float64 `json:"sellTotal"`
	CapsRevenue      float64 `json:"capsRevenue"`
	RemovalRevenue   float64 `json:"removalRevenue"`
	CustomerSubtotal float64 `json:"customerSubtotal"`
	CustomerSalesTax float64 `json:"customerSalesTax"`
	CustomerTotal    float64 `json:"customerTotal"`

	// profitability (removal revenue excluded)
	GrossProfit       float64 `json:"grossProfit"`
	ProfitMargin      float64 `json:"profitMargin"`
	InstallOnlyMargin float64 `json:"installOnlyMargin"`
	MarginOK          bool    `json:"marginOk"`

	Description string   `json:"description"`
	Warnings    []string `json:"warnings,omitempty"`
}

// UnitInput carries one evaluation of a per-unit category: rock filter
// dams and inlet protection (EA), aggregate (TON). Labor is scheduled by
// minutes per unit against the crew's minutes-per-day capacity.
type UnitInput struct {
	Category            string  `json:"category" validate:"required,oneof=rock_filter_dam aggregate inlet_protection"`
	Description         string  `json:"description,omitempty"`
	SKU                 string  `json:"sku,omitempty"`
	Qty                 float64 `json:"qty" validate:"gte=0"`
	MaterialCostPerUnit float64 `json:"materialCostPerUnit" validate:"gte=0"`
	LaborMinutesPerUnit float64 `json:"laborMinutesPerUnit" validate:"gte=0"`
	SellPricePerUnit    string  `json:"sellPricePerUnit"`
}

// UnitBreakdown is the cost/margin picture for a per-unit evaluation.
type UnitBreakdown struct {
	Qty               float64 `json:"qty"`
	Unit              string  `json:"unit"`
	MaterialCost      float64 `json:"materialCostPerUnit"`
	MaterialsSubtotal float64 `json:"materialsSubtotal"`
	Tax               float64 `json:"tax"`
	TotalMinutes      float64 `json:"totalMinutes"`
	BillingDays       int     `json:"billingDays"`
	LaborCost         float64 `json:"laborCost"`
	FuelCost          float64 `json:"fuelCost"`
	UnitCost          float64 `json:"unitCost"`
	SellPricePerUnit  float64 `json:"sellPricePerUnit"`
	SellTotal         float64 `json:"sellTotal"`
	GrossProfit       float64 `json:"grossProfit"`
	ProfitMargin      float64 `json:"profitMargin"`
	MarginOK          bool    `json:"marginOk"`

	Description string   `json:"description"`
	Warnings    []string `json:"warnings,omitempty"`
}
