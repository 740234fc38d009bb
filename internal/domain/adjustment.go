package domain

import "github.com/shopspring/decimal"

// DiscountType is one entry of the fixed discount catalogue.
type DiscountType string

const (
	DiscountMultiPolicy DiscountType = "multi_policy"
	DiscountSafeDriver  DiscountType = "safe_driver"
	DiscountGoodStudent DiscountType = "good_student"
	DiscountMilitary    DiscountType = "military"
	DiscountSenior      DiscountType = "senior"
	DiscountLoyalty     DiscountType = "loyalty"
	DiscountPaidInFull  DiscountType = "paid_in_full"
	DiscountPaperless   DiscountType = "paperless"
	DiscountAutoPay     DiscountType = "auto_pay"
)

// Discount is a candidate discount. Either Rate or FixedAmount is set.
type Discount struct {
	Type        DiscountType    `json:"type"`
	Rate        decimal.Decimal `json:"rate"`
	FixedAmount decimal.Decimal `json:"fixedAmount"`
	Stackable   bool            `json:"stackable"`
	Priority    int             `json:"priority"`
	Eligible    bool            `json:"eligible"`
	Description string          `json:"description,omitempty"`
}

// IsFixed reports whether the discount is a flat amount.
func (d Discount) IsFixed() bool {
	return d.FixedAmount.IsPositive()
}

// AppliedDiscount is a discount as it landed on the premium.
type AppliedDiscount struct {
	Type    DiscountType    `json:"type"`
	Rate    decimal.Decimal `json:"rate"`
	Amount  decimal.Decimal `json:"amount"`
	Partial bool            `json:"partial,omitempty"`
}

// SurchargeCategory is one entry of the fixed surcharge catalogue.
type SurchargeCategory string

const (
	SurchargeDUI                 SurchargeCategory = "dui"
	SurchargeSR22                SurchargeCategory = "sr22_filing"
	SurchargeHighRisk            SurchargeCategory = "high_risk"
	SurchargeYoungDriver         SurchargeCategory = "young_driver"
	SurchargeInexperiencedDriver SurchargeCategory = "inexperienced_driver"
	SurchargeCoverageLapse       SurchargeCategory = "coverage_lapse"
	SurchargeVehicleType         SurchargeCategory = "vehicle_type"
	SurchargeCommercialUse       SurchargeCategory = "commercial_use"
	SurchargeModifiedVehicle     SurchargeCategory = "modified_vehicle"
)

// SurchargeSeverity grades how much risk a surcharge reflects.
type SurchargeSeverity string

const (
	SeverityLow      SurchargeSeverity = "low"
	SeverityMedium   SurchargeSeverity = "medium"
	SeverityHigh     SurchargeSeverity = "high"
	SeverityVeryHigh SurchargeSeverity = "very_high"
)

// Surcharge is an applied surcharge. Flat fees carry FlatAmount and no Rate.
type Surcharge struct {
	Category      SurchargeCategory `json:"category"`
	Rate          decimal.Decimal   `json:"rate"`
	RequestedRate decimal.Decimal   `json:"requestedRate"`
	FlatAmount    decimal.Decimal   `json:"flatAmount"`
	Amount        decimal.Decimal   `json:"amount"`
	Severity      SurchargeSeverity `json:"severity"`
	DriverID      string            `json:"driverId,omitempty"`
	VehicleVIN    string            `json:"vehicleVin,omitempty"`
	Reason        string            `json:"reason"`
	Scaled        bool              `json:"scaled,omitempty"`
}

// IsFlat reports whether the surcharge is a flat fee excluded from rate capping.
func (s Surcharge) IsFlat() bool {
	return s.FlatAmount.IsPositive()
}
