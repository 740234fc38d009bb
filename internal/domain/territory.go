package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Audit holds record timestamps shared by administrable definitions.
type Audit struct {
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RiskFactors is the territory risk vector. Each component is in [0, 1].
type RiskFactors struct {
	CrimeRate       float64 `json:"crimeRate"`
	WeatherRisk     float64 `json:"weatherRisk"`
	TrafficDensity  float64 `json:"trafficDensity"`
	CatastropheRisk float64 `json:"catastropheRisk"`
}

// TerritoryDefinition groups ZIP codes that share a geographic risk profile.
// Within a jurisdiction the ZIP sets of all territories must be disjoint.
type TerritoryDefinition struct {
	ID           string          `json:"id"`
	Jurisdiction string          `json:"jurisdiction"`
	ZIPCodes     []string        `json:"zipCodes"`
	BaseFactor   decimal.Decimal `json:"baseFactor"`
	Risk         RiskFactors     `json:"risk"`
	Description  string          `json:"description"`
	Version      int             `json:"version"`
	Audit
}

// TerritoryFactor is the resolved, cacheable territory factor for one ZIP.
type TerritoryFactor struct {
	TerritoryID  string          `json:"territoryId"`
	Jurisdiction string          `json:"jurisdiction"`
	ZIPCode      string          `json:"zipCode"`
	BaseFactor   decimal.Decimal `json:"baseFactor"`
	Composite    decimal.Decimal `json:"composite"`
	Risk         RiskFactors     `json:"risk"`
	Version      int             `json:"version"`
}

// RateTable is one base-rate row for a coverage, valid over a date window.
// ExpiresOn is exclusive; nil means open-ended.
type RateTable struct {
	ID            string          `json:"id"`
	Jurisdiction  string          `json:"jurisdiction"`
	Product       ProductType     `json:"product"`
	Coverage      CoverageType    `json:"coverage"`
	BaseRate      decimal.Decimal `json:"baseRate"`
	EffectiveFrom time.Time       `json:"effectiveFrom"`
	ExpiresOn     *time.Time      `json:"expiresOn,omitempty"`
	Version       int             `json:"version"`
}

// ActiveOn reports whether the row covers the given date.
func (r RateTable) ActiveOn(at time.Time) bool {
	if at.Before(r.EffectiveFrom) {
		return false
	}
	return r.ExpiresOn == nil || at.Before(*r.ExpiresOn)
}

// MinimumPremium is the premium floor for a jurisdiction and product.
type MinimumPremium struct {
	Jurisdiction  string          `json:"jurisdiction"`
	Product       ProductType     `json:"product"`
	Amount        decimal.Decimal `json:"amount"`
	EffectiveFrom time.Time       `json:"effectiveFrom"`
}
