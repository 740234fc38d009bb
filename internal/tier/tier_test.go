package tier

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func factors(values ...string) []domain.AppliedFactor {
	out := make([]domain.AppliedFactor, 0, len(values))
	for _, v := range values {
		out = append(out, domain.AppliedFactor{RatingFactor: domain.RatingFactor{Name: "f", Value: decimal.RequireFromString(v)}})
	}
	return out
}

func TestClassifier(t *testing.T) {
	c := NewClassifier()

	t.Run("Thresholds", func(t *testing.T) {
		tests := []struct {
			product string
			want    domain.RiskTier
		}{
			{"0.75", domain.TierPreferred},
			{"0.90", domain.TierPreferred},
			{"0.9001", domain.TierStandard},
			{"1.30", domain.TierStandard},
			{"1.85", domain.TierNonStandard},
			{"2.00", domain.TierNonStandard},
			{"2.01", domain.TierHighRisk},
		}
		for _, tt := range tests {
			if got := c.ForProduct(decimal.RequireFromString(tt.product)); got != tt.want {
				t.Errorf("product %s: expected %s, got %s", tt.product, tt.want, got)
			}
		}
	})

	t.Run("FactorProduct", func(t *testing.T) {
		// 1.2 x 0.9 = 1.08
		if got := c.Classify(factors("1.2", "0.9"), nil); got != domain.TierStandard {
			t.Errorf("expected standard, got %s", got)
		}
		// 1.5 x 1.6 = 2.4
		if got := c.Classify(factors("1.5", "1.6"), nil); got != domain.TierHighRisk {
			t.Errorf("expected high_risk, got %s", got)
		}
	})

	t.Run("NoFactors", func(t *testing.T) {
		if got := c.Classify(nil, nil); got != domain.TierStandard {
			t.Errorf("a product of 1 is standard, got %s", got)
		}
	})

	t.Run("EscalatesOnSeverity", func(t *testing.T) {
		severe := []domain.Surcharge{{Category: domain.SurchargeDUI, Severity: domain.SeverityVeryHigh}}
		if got := c.Classify(factors("0.85"), severe); got != domain.TierNonStandard {
			t.Errorf("expected non_standard, got %s", got)
		}
		if got := c.Classify(factors("2.5"), severe); got != domain.TierHighRisk {
			t.Errorf("escalation must never lower the tier, got %s", got)
		}

		plain := &Classifier{PreferredMax: c.PreferredMax, StandardMax: c.StandardMax, NonStandardMax: c.NonStandardMax}
		if got := plain.Classify(factors("0.85"), severe); got != domain.TierPreferred {
			t.Errorf("expected preferred without escalation, got %s", got)
		}
	})
}
