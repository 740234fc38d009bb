package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Factor names. The first eight form the canonical application order.
const (
	FactorTerritory      = "territory"
	FactorDriverAge      = "driver_age"
	FactorExperience     = "experience"
	FactorVehicleAge     = "vehicle_age"
	FactorSafetyFeatures = "safety_features"
	FactorCredit         = "credit"
	FactorViolations     = "violations"
	FactorAccidents      = "accidents"

	FactorAnnualMileage    = "annual_mileage"
	FactorCatastrophe      = "catastrophe"
	FactorClaimsExperience = "claims_experience"
	FactorFrequencyModel   = "frequency_model"
	FactorTrend            = "trend"
	FactorVehicleUsage     = "vehicle_usage"
)

// CanonicalFactorOrder is the fixed order in which factors compound.
// Anything not listed is applied afterwards in name order.
var CanonicalFactorOrder = []string{
	FactorTerritory,
	FactorDriverAge,
	FactorExperience,
	FactorVehicleAge,
	FactorSafetyFeatures,
	FactorCredit,
	FactorViolations,
	FactorAccidents,
}

// RatingFactor is a multiplicative premium adjustment with its valid range.
type RatingFactor struct {
	Name   string          `json:"name"`
	Value  decimal.Decimal `json:"value"`
	Min    decimal.Decimal `json:"min"`
	Max    decimal.Decimal `json:"max"`
	Capped bool            `json:"capped,omitempty"`
	Source string          `json:"source,omitempty"`
}

// AppliedFactor records the dollar effect of a factor at the moment it compounded.
type AppliedFactor struct {
	RatingFactor
	PremiumBefore decimal.Decimal `json:"premiumBefore"`
	Impact        decimal.Decimal `json:"impact"`
}

// SortFactors orders factors canonically. The input slice is not modified.
func SortFactors(factors []RatingFactor) []RatingFactor {
	rank := make(map[string]int, len(CanonicalFactorOrder))
	for i, name := range CanonicalFactorOrder {
		rank[name] = i
	}

	out := append([]RatingFactor(nil), factors...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Name]
		rj, jok := rank[out[j].Name]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out
}

// FactorProduct multiplies every factor value together.
func FactorProduct(factors []AppliedFactor) decimal.Decimal {
	product := decimal.NewFromInt(1)
	for _, f := range factors {
		product = product.Mul(f.Value)
	}
	return product
}
