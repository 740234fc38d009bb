// Package tier classifies a priced quote into a coarse risk tier.
package tier

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/money"
)

// Classifier maps the compounded factor product onto tiers.
// A product at or below a threshold falls into that tier.
type Classifier struct {
	PreferredMax   decimal.Decimal
	StandardMax    decimal.Decimal
	NonStandardMax decimal.Decimal

	// EscalateOnSeverity lifts a quote to at least non_standard when any
	// surcharge carries very_high severity.
	EscalateOnSeverity bool
}

// NewClassifier returns the default thresholds.
func NewClassifier() *Classifier {
	return &Classifier{
		PreferredMax:       money.MustParse("0.90"),
		StandardMax:        money.MustParse("1.30"),
		NonStandardMax:     money.MustParse("2.00"),
		EscalateOnSeverity: true,
	}
}

// Classify returns the tier for the applied factors and surcharges.
func (c *Classifier) Classify(factors []domain.AppliedFactor, surcharges []domain.Surcharge) domain.RiskTier {
	t := c.ForProduct(domain.FactorProduct(factors))
	if !c.EscalateOnSeverity {
		return t
	}
	for _, s := range surcharges {
		if s.Severity == domain.SeverityVeryHigh && rank(t) < rank(domain.TierNonStandard) {
			return domain.TierNonStandard
		}
	}
	return t
}

// ForProduct buckets a factor product.
func (c *Classifier) ForProduct(product decimal.Decimal) domain.RiskTier {
	switch {
	case product.LessThanOrEqual(c.PreferredMax):
		return domain.TierPreferred
	case product.LessThanOrEqual(c.StandardMax):
		return domain.TierStandard
	case product.LessThanOrEqual(c.NonStandardMax):
		return domain.TierNonStandard
	default:
		return domain.TierHighRisk
	}
}

func rank(t domain.RiskTier) int {
	switch t {
	case domain.TierPreferred:
		return 0
	case domain.TierStandard:
		return 1
	case domain.TierNonStandard:
		return 2
	default:
		return 3
	}
}
