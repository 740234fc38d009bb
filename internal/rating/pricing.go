package rating

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/factors"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
	"github.com/opensource-finance/kestrel/internal/money"
	"github.com/opensource-finance/kestrel/internal/territory"
)

// basePremiums prices each coverage as limit × rate / 1000. Liability is split
// into bodily injury and property damage lines that sum to the coverage premium.
func basePremiums(req *domain.RatingRequest, rules *jurisdiction.Rules, rates map[domain.CoverageType]*domain.RateTable) ([]domain.CoveragePremium, decimal.Decimal) {
	out := make([]domain.CoveragePremium, 0, len(req.Coverages)+1)
	total := money.Zero
	for _, c := range req.Coverages {
		rate := rates[c.Type]
		p := money.PerThousand(c.Limit, rate.BaseRate)
		line := domain.CoveragePremium{
			Coverage:    c.Type,
			Limit:       c.Limit,
			Deductible:  c.Deductible,
			BaseRate:    rate.BaseRate,
			RateVersion: rate.Version,
			Premium:     p,
		}
		total = total.Add(p)

		if c.Type != domain.CoverageLiability {
			out = append(out, line)
			continue
		}
		bi, pd := line, line
		bi.Component, pd.Component = domain.ComponentBodilyInjury, domain.ComponentPropertyDamage
		bi.BaseRate = money.RoundFactor(rate.BaseRate.Mul(rules.BodilyInjuryShare))
		pd.BaseRate = rate.BaseRate.Sub(bi.BaseRate)
		bi.Premium = money.Round(p.Mul(rules.BodilyInjuryShare))
		pd.Premium = p.Sub(bi.Premium)
		out = append(out, bi, pd)
	}
	return out, total
}

// coveragePremium totals the lines of one coverage.
func coveragePremium(coverages []domain.CoveragePremium, t domain.CoverageType) (decimal.Decimal, bool) {
	total, found := money.Zero, false
	for _, c := range coverages {
		if c.Coverage == t {
			total, found = total.Add(c.Premium), true
		}
	}
	return total, found
}

// collectFactors gathers every factor of the quote before bounding.
func collectFactors(req *domain.RatingRequest, rules *jurisdiction.Rules, l *lookups, coverages []domain.CoveragePremium, base decimal.Decimal) ([]domain.RatingFactor, error) {
	risk := territory.WithSignals(l.territory.Risk, req.Signals)
	terr := domain.RatingFactor{
		Name:   domain.FactorTerritory,
		Source: factors.SourceTerritory,
		Value:  territory.Composite(l.territory.BaseFactor, risk),
	}

	out := []domain.RatingFactor{terr}
	out = append(out, l.driver...)
	out = append(out, l.vehicle...)

	if s := req.Signals; s != nil && s.CreditScore != nil {
		f, err := factors.Credit(*s.CreditScore)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}

	if req.Customer != nil {
		f, err := factors.ClaimsExperience(*req.Customer)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}

	worstViolations, worstAccidents := 0, 0
	for _, d := range req.Drivers {
		worstViolations = max(worstViolations, d.Violations)
		worstAccidents = max(worstAccidents, d.Accidents)
	}
	freq, err := factors.FrequencyModel(factors.FrequencyInput{
		PrimaryAge:    req.Drivers[0].Age,
		Violations:    worstViolations,
		Accidents:     worstAccidents,
		AnnualMileage: req.Vehicle.AnnualMileage,
		VehicleAge:    max(req.Vehicle.AgeAt(req.EffectiveDate), 0),
	}, rules.GLM)
	if err != nil {
		return nil, err
	}
	out = append(out, freq)

	if share := comprehensiveShare(coverages, base); share.IsPositive() {
		f, err := factors.Catastrophe(risk.CatastropheRisk, rules.CatastropheLoad, share)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}

	years := factors.YearsBetween(oldestRate(l.rates).EffectiveFrom, req.EffectiveDate)
	years = min(max(years, 0), factors.MaxTrendYears)
	trend, err := factors.Trend(rules.AnnualTrend, years)
	if err != nil {
		return nil, err
	}
	out = append(out, trend)

	return out, nil
}

// applyFactors compounds the bounded factors onto base in canonical order.
// Each impact is the running premium × (factor − 1) before the factor applied.
func applyFactors(base decimal.Decimal, bounded []domain.RatingFactor) ([]domain.AppliedFactor, decimal.Decimal) {
	applied := make([]domain.AppliedFactor, 0, len(bounded))
	running := base
	for _, f := range bounded {
		applied = append(applied, domain.AppliedFactor{
			RatingFactor:  f,
			PremiumBefore: money.Round(running),
			Impact:        money.Round(running.Mul(f.Value.Sub(money.One))),
		})
		running = running.Mul(f.Value)
	}
	return applied, money.Round(running)
}

// minimumFor scales the floor when both physical damage coverages are selected.
func minimumFor(req *domain.RatingRequest, rules *jurisdiction.Rules, mp *domain.MinimumPremium) decimal.Decimal {
	if req.HasCoverage(domain.CoverageCollision) && req.HasCoverage(domain.CoverageComprehensive) {
		return money.Round(mp.Amount.Mul(rules.FullCoverageMinimumMultiplier))
	}
	return mp.Amount
}

func comprehensiveShare(coverages []domain.CoveragePremium, base decimal.Decimal) decimal.Decimal {
	if p, ok := coveragePremium(coverages, domain.CoverageComprehensive); ok {
		return money.RoundFactor(money.Ratio(p, base))
	}
	return money.Zero
}

func oldestRate(rates map[domain.CoverageType]*domain.RateTable) *domain.RateTable {
	var oldest *domain.RateTable
	for _, r := range rates {
		if oldest == nil || r.EffectiveFrom.Before(oldest.EffectiveFrom) {
			oldest = r
		}
	}
	return oldest
}
