package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskTier is a coarse risk classification derived from the factor product.
type RiskTier string

const (
	TierPreferred   RiskTier = "preferred"
	TierStandard    RiskTier = "standard"
	TierNonStandard RiskTier = "non_standard"
	TierHighRisk    RiskTier = "high_risk"
)

// LiabilityComponent splits a liability coverage into its priced parts.
type LiabilityComponent string

const (
	ComponentBodilyInjury   LiabilityComponent = "bodily_injury"
	ComponentPropertyDamage LiabilityComponent = "property_damage"
)

// CoveragePremium is the base premium of one coverage line. Liability is
// priced as two lines, one per component, sharing the selected limit.
type CoveragePremium struct {
	Coverage    CoverageType       `json:"coverage"`
	Component   LiabilityComponent `json:"component,omitempty"`
	Limit       decimal.Decimal    `json:"limit"`
	Deductible  decimal.Decimal    `json:"deductible"`
	BaseRate    decimal.Decimal    `json:"baseRate"`
	RateVersion int                `json:"rateVersion"`
	Premium     decimal.Decimal    `json:"premium"`
}

// AIRiskScore is the optional output of the external risk scorer.
type AIRiskScore struct {
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Factors    []ScoreAttribution `json:"factors,omitempty"`
	Model      string             `json:"model,omitempty"`
}

// ScoreAttribution is one explanatory input reported by the risk scorer.
type ScoreAttribution struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// AIScoreStatus records what happened to the optional AI enhancement.
type AIScoreStatus string

const (
	AIScoreAttached    AIScoreStatus = "attached"
	AIScoreUnavailable AIScoreStatus = "unavailable"
	AIScoreDisabled    AIScoreStatus = "disabled"
)

// RatingResult is the priced, auditable outcome of a calculation.
// It is never mutated after construction.
type RatingResult struct {
	CalculationID string      `json:"calculationId"`
	Jurisdiction  string      `json:"jurisdiction"`
	Product       ProductType `json:"product"`
	RequestKey    string      `json:"requestKey"`
	Currency      string      `json:"currency"`

	BasePremium      decimal.Decimal   `json:"basePremium"`
	CoveragePremiums []CoveragePremium `json:"coveragePremiums"`
	Factors          []AppliedFactor   `json:"factors"`
	FactorProduct    decimal.Decimal   `json:"factorProduct"`
	FactoredPremium  decimal.Decimal   `json:"factoredPremium"`
	Discounts        []AppliedDiscount `json:"discounts"`
	TotalDiscount    decimal.Decimal   `json:"totalDiscount"`
	Surcharges       []Surcharge       `json:"surcharges"`
	TotalSurcharge   decimal.Decimal   `json:"totalSurcharge"`
	MinimumPremium   decimal.Decimal   `json:"minimumPremium"`
	MinimumApplied   bool              `json:"minimumApplied"`
	FinalPremium     decimal.Decimal   `json:"finalPremium"`
	RiskTier         RiskTier          `json:"riskTier"`
	AIScore          *AIRiskScore      `json:"aiScore,omitempty"`
	AIScoreStatus    AIScoreStatus     `json:"aiScoreStatus"`
	Violations       Violations        `json:"violations"`

	Metadata ResultMetadata `json:"metadata"`
}

// ResultMetadata is processing information that does not affect pricing.
type ResultMetadata struct {
	TraceID          string    `json:"traceId,omitempty"`
	CalculatedAt     time.Time `json:"calculatedAt"`
	LatencyMs        float64   `json:"latencyMs"`
	LookupMs         float64   `json:"lookupMs"`
	RateVersion      string    `json:"rateVersion"`
	TerritoryID      string    `json:"territoryId"`
	TerritoryVersion int       `json:"territoryVersion"`
	EngineVersion    string    `json:"engineVersion"`
	CacheHit         bool      `json:"cacheHit"`
}
