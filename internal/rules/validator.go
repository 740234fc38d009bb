// Package rules validates a priced quote against the business and regulatory
// rules of its jurisdiction.
package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
	"github.com/opensource-finance/kestrel/internal/money"
	"github.com/opensource-finance/kestrel/internal/surcharge"
)

// Final-to-base ratios outside [MinPremiumMultiple, MaxPremiumMultiple] are flagged.
var (
	MaxPremiumMultiple = money.MustParse("5")
	MinPremiumMultiple = money.MustParse("0.2")
)

// Discount thresholds against the factored premium.
var (
	MaxTotalDiscountRate  = money.MustParse("0.50")
	MaxSingleDiscountRate = money.MustParse("0.25")
)

// Old vehicles carrying physical damage limits above OldVehicleLimit are flagged.
var (
	OldVehicleAge   = 20
	OldVehicleLimit = money.MustParse("50000")
)

// Input is a fully priced quote.
type Input struct {
	Request *domain.RatingRequest
	Rules   *jurisdiction.Rules

	Factors    []domain.AppliedFactor
	Discounts  []domain.AppliedDiscount
	Surcharges []domain.Surcharge

	BasePremium     decimal.Decimal
	FactoredPremium decimal.Decimal
	MinimumPremium  decimal.Decimal
	FinalPremium    decimal.Decimal

	// MaxDiscountRate is the configured cap; the jurisdiction cap applies when stricter.
	MaxDiscountRate decimal.Decimal
}

// Validator runs the fixed rule catalogue. It is safe for concurrent use.
type Validator struct {
	eligibility *eligibility
}

// NewValidator compiles the eligibility checks.
func NewValidator() (*Validator, error) {
	e, err := newEligibility()
	if err != nil {
		return nil, err
	}
	return &Validator{eligibility: e}, nil
}

// Validate returns every finding for the quote in catalogue order.
func (v *Validator) Validate(in *Input) domain.Violations {
	if in == nil || in.Request == nil || in.Rules == nil {
		return domain.Violations{{
			RuleID:   "SYS-001",
			Severity: domain.ViolationError,
			Message:  "nothing to validate",
		}}
	}

	var out domain.Violations
	out = append(out, checkFactors(in)...)
	out = append(out, checkPremium(in)...)
	out = append(out, checkDiscounts(in)...)
	out = append(out, checkSurcharges(in)...)
	out = append(out, checkCoverages(in)...)
	out = append(out, v.eligibility.evaluate(in)...)
	out = append(out, checkRegulatory(in)...)
	return out
}

func violation(id string, sev domain.ViolationSeverity, field, remediation, format string, args ...any) domain.BusinessRuleViolation {
	return domain.BusinessRuleViolation{
		RuleID:      id,
		Severity:    sev,
		Message:     fmt.Sprintf(format, args...),
		Field:       field,
		Remediation: remediation,
	}
}

func checkFactors(in *Input) domain.Violations {
	var out domain.Violations
	for _, f := range in.Factors {
		b := in.Rules.BoundsFor(f.Name)
		if f.Max.IsPositive() {
			b = jurisdiction.Bounds{Min: f.Min, Max: f.Max}
		}
		if !b.Contains(f.Value) {
			out = append(out, violation("FAC-001", domain.ViolationError, "factors."+f.Name,
				"check the factor inputs and bounds",
				"factor %s = %s is outside [%s, %s]", f.Name, f.Value, b.Min, b.Max))
		}
		if f.Capped {
			out = append(out, violation("FAC-002", domain.ViolationInfo, "factors."+f.Name, "",
				"factor %s was capped to %s", f.Name, f.Value))
		}
	}
	return out
}

func checkPremium(in *Input) domain.Violations {
	var out domain.Violations

	switch {
	case in.FinalPremium.IsNegative():
		out = append(out, violation("PRM-001", domain.ViolationError, "finalPremium",
			"review discounts and rates", "final premium %s is negative", in.FinalPremium))
	case in.FinalPremium.IsZero():
		out = append(out, violation("PRM-005", domain.ViolationWarning, "finalPremium",
			"review discounts and rates", "final premium is zero"))
	}
	if in.FinalPremium.LessThan(in.MinimumPremium) {
		out = append(out, violation("PRM-002", domain.ViolationError, "finalPremium",
			"apply the minimum premium floor", "final premium %s is below the minimum %s", in.FinalPremium, in.MinimumPremium))
	}
	if in.BasePremium.IsPositive() && in.FinalPremium.GreaterThan(in.BasePremium.Mul(MaxPremiumMultiple)) {
		out = append(out, violation("PRM-003", domain.ViolationWarning, "finalPremium",
			"refer to underwriting", "final premium %s is more than %s times the base premium %s",
			in.FinalPremium, MaxPremiumMultiple, in.BasePremium))
	}
	if in.BasePremium.IsPositive() && in.FinalPremium.IsPositive() &&
		in.FinalPremium.LessThan(in.BasePremium.Mul(MinPremiumMultiple)) {
		out = append(out, violation("PRM-006", domain.ViolationWarning, "finalPremium",
			"review discounts and rates", "final premium %s is less than %s times the base premium %s",
			in.FinalPremium, MinPremiumMultiple, in.BasePremium))
	}

	expected := in.FactoredPremium.Sub(sumDiscounts(in.Discounts)).Add(sumSurcharges(in.Surcharges, false))
	expected = money.Max(expected, in.MinimumPremium)
	if !expected.Equal(in.FinalPremium) {
		out = append(out, violation("PRM-004", domain.ViolationError, "finalPremium",
			"recalculate the quote", "final premium %s does not reconcile with components (%s)", in.FinalPremium, expected))
	}
	return out
}

func checkDiscounts(in *Input) domain.Violations {
	var out domain.Violations

	total := sumDiscounts(in.Discounts)
	if limit := money.Percent(in.FactoredPremium, MaxTotalDiscountRate); total.GreaterThan(limit) {
		out = append(out, violation("DSC-001", domain.ViolationError, "discounts",
			"reduce discounts", "total discount %s exceeds %s of %s", total, MaxTotalDiscountRate, in.FactoredPremium))
	}
	capRate := in.Rules.DiscountCap(in.MaxDiscountRate)
	if capAmount := money.Percent(in.FactoredPremium, capRate); total.GreaterThan(capAmount) {
		out = append(out, violation("DSC-004", domain.ViolationError, "discounts",
			"reduce discounts to the cap", "total discount %s exceeds the %s stacking cap of %s", total, capRate, in.FactoredPremium))
	}

	single := money.Percent(in.FactoredPremium, MaxSingleDiscountRate)
	seen := make(map[domain.DiscountType]bool, len(in.Discounts))
	for _, d := range in.Discounts {
		if d.Amount.GreaterThan(single) {
			out = append(out, violation("DSC-005", domain.ViolationWarning, "discounts."+string(d.Type),
				"verify the discount eligibility", "discount %s of %s exceeds %s of %s",
				d.Type, d.Amount, MaxSingleDiscountRate, in.FactoredPremium))
		}
		if seen[d.Type] {
			out = append(out, violation("DSC-003", domain.ViolationError, "discounts."+string(d.Type),
				"remove the duplicate", "discount %s applied more than once", d.Type))
		}
		seen[d.Type] = true
	}
	for _, pair := range in.Rules.ExclusiveDiscounts {
		if seen[pair[0]] && seen[pair[1]] {
			out = append(out, violation("DSC-002", domain.ViolationError, "discounts",
				"keep only one of the pair", "discounts %s and %s are mutually exclusive", pair[0], pair[1]))
		}
	}
	return out
}

func checkSurcharges(in *Input) domain.Violations {
	var out domain.Violations

	pct := sumSurcharges(in.Surcharges, true)
	limit := money.Percent(in.FactoredPremium, in.Rules.MaxSurchargeRate)
	// each amount is rounded separately
	tolerance := decimal.New(int64(len(in.Surcharges)), -money.MinorUnits)
	if pct.GreaterThan(limit.Add(tolerance)) {
		out = append(out, violation("SUR-001", domain.ViolationError, "surcharges",
			"scale surcharges to the jurisdiction maximum", "percentage surcharges %s exceed %s of %s",
			pct, in.Rules.MaxSurchargeRate, in.FactoredPremium))
	}

	drivers := make(map[string]domain.Driver, len(in.Request.Drivers))
	for _, d := range in.Request.Drivers {
		drivers[d.ID] = d
	}
	hasDUI := make(map[string]bool)
	hasSR22 := make(map[string]bool)

	for _, s := range in.Surcharges {
		if s.DriverID == "" {
			continue
		}
		d, ok := drivers[s.DriverID]
		switch {
		case !ok:
			out = append(out, violation("SUR-002", domain.ViolationError, "surcharges."+string(s.Category),
				"recalculate the quote", "%s surcharge references unknown driver %s", s.Category, s.DriverID))
		case s.Category == domain.SurchargeDUI && d.DUIs == 0:
			out = append(out, violation("SUR-002", domain.ViolationError, "surcharges.dui",
				"remove the surcharge", "DUI surcharge on driver %s without a DUI conviction", d.ID))
		case s.Category == domain.SurchargeSR22 && d.DUIs == 0:
			out = append(out, violation("SUR-002", domain.ViolationError, "surcharges.sr22_filing",
				"remove the surcharge or record the DUI conviction", "SR-22 fee on driver %s without a DUI conviction", d.ID))
		case s.Category == domain.SurchargeHighRisk && !qualifiesHighRisk(d, in.Rules):
			out = append(out, violation("SUR-005", domain.ViolationWarning, "surcharges.high_risk",
				"verify the driving record", "high risk surcharge on driver %s without a qualifying record", d.ID))
		}
		switch s.Category {
		case domain.SurchargeDUI:
			hasDUI[s.DriverID] = true
		case domain.SurchargeSR22:
			hasSR22[s.DriverID] = true
		}
	}

	for _, d := range in.Request.Drivers {
		if d.DUIs == 0 {
			continue
		}
		if !hasDUI[d.ID] {
			out = append(out, violation("SUR-003", domain.ViolationError, "surcharges.dui",
				"apply the DUI tier", "driver %s has %d DUI conviction(s) without a DUI surcharge", d.ID, d.DUIs))
		}
		if !hasSR22[d.ID] {
			out = append(out, violation("SUR-004", domain.ViolationWarning, "surcharges.sr22_filing",
				"confirm the SR-22 filing", "driver %s has %d DUI conviction(s) without an SR-22 fee", d.ID, d.DUIs))
		}
	}
	return out
}

// qualifiesHighRisk reports whether the driver's record reaches the lowest high-risk band.
func qualifiesHighRisk(d domain.Driver, rules *jurisdiction.Rules) bool {
	if len(rules.HighRiskBands) == 0 {
		return false
	}
	lowest := rules.HighRiskBands[0].MinScore
	for _, b := range rules.HighRiskBands[1:] {
		lowest = min(lowest, b.MinScore)
	}
	return surcharge.RiskScore(d) >= lowest
}

func checkCoverages(in *Input) domain.Violations {
	var out domain.Violations
	seen := make(map[domain.CoverageType]bool)
	vehicleAge := in.Request.Vehicle.AgeAt(in.Request.EffectiveDate)

	for _, c := range in.Request.Coverages {
		field := "coverages." + string(c.Type)
		if seen[c.Type] {
			out = append(out, violation("COV-001", domain.ViolationError, field,
				"remove the duplicate", "coverage %s selected more than once", c.Type))
		}
		seen[c.Type] = true

		switch {
		case !c.Limit.IsPositive():
			out = append(out, violation("COV-002", domain.ViolationError, field,
				"set a positive limit", "coverage %s has limit %s", c.Type, c.Limit))
		case c.Deductible.IsNegative():
			out = append(out, violation("COV-002", domain.ViolationError, field,
				"set a non-negative deductible", "coverage %s has deductible %s", c.Type, c.Deductible))
		case c.Deductible.GreaterThanOrEqual(c.Limit):
			out = append(out, violation("COV-002", domain.ViolationError, field,
				"lower the deductible", "coverage %s deductible %s is not below limit %s", c.Type, c.Deductible, c.Limit))
		}

		if c.Type == domain.CoverageLiability && c.Limit.LessThan(in.Rules.RecommendedLiabilityLimit) {
			out = append(out, violation("COV-003", domain.ViolationInfo, field,
				fmt.Sprintf("consider a limit of at least %s", in.Rules.RecommendedLiabilityLimit),
				"liability limit %s is below the recommended %s", c.Limit, in.Rules.RecommendedLiabilityLimit))
		}

		physical := c.Type == domain.CoverageCollision || c.Type == domain.CoverageComprehensive
		if physical && vehicleAge >= OldVehicleAge && c.Limit.GreaterThan(OldVehicleLimit) {
			out = append(out, violation("COV-006", domain.ViolationWarning, field,
				"limit the coverage to the vehicle's actual cash value",
				"coverage %s limit %s on a %d year old vehicle", c.Type, c.Limit, vehicleAge))
		}
	}

	if seen[domain.CoverageCollision] && !seen[domain.CoverageComprehensive] {
		out = append(out, violation("COV-004", domain.ViolationInfo, "coverages",
			"offer comprehensive", "collision selected without comprehensive"))
	}
	if !seen[domain.CoverageUninsuredMotorist] {
		out = append(out, violation("COV-005", domain.ViolationInfo, "coverages",
			"offer uninsured motorist coverage", "uninsured motorist coverage not selected"))
	}
	return out
}

func checkRegulatory(in *Input) domain.Violations {
	var out domain.Violations
	rules := in.Rules

	for _, f := range in.Factors {
		if rules.IsBanned(f.Name) {
			out = append(out, violation("REG-001", domain.ViolationError, "factors."+f.Name,
				"remove the factor from the rating", "factor %s is prohibited in %s", f.Name, rules.Code))
		}
	}

	if len(rules.PrimaryFactors) > 0 {
		primary := make(map[string]bool, len(rules.PrimaryFactors))
		for _, name := range rules.PrimaryFactors {
			primary[name] = true
		}
		var maxPrimary, maxOther decimal.Decimal
		var dominant string
		for _, f := range in.Factors {
			dev := f.Value.Sub(money.One).Abs()
			if primary[f.Name] {
				maxPrimary = money.Max(maxPrimary, dev)
			} else if dev.GreaterThan(maxOther) {
				maxOther, dominant = dev, f.Name
			}
		}
		if maxOther.GreaterThan(maxPrimary) {
			out = append(out, violation("REG-002", domain.ViolationWarning, "factors."+dominant,
				"review factor weights", "factor %s outweighs the mandated primary factors (%s)",
				dominant, strings.Join(rules.PrimaryFactors, ", ")))
		}
	}

	for _, m := range rules.MandatoryCoverages {
		if !in.Request.HasCoverage(m) {
			out = append(out, violation("REG-003", domain.ViolationError, "coverages",
				"add the coverage", "coverage %s is mandatory in %s", m, rules.Code))
		}
	}
	return out
}

func sumDiscounts(ds []domain.AppliedDiscount) decimal.Decimal {
	total := money.Zero
	for _, d := range ds {
		total = total.Add(d.Amount)
	}
	return total
}

// sumSurcharges totals surcharge amounts; percentOnly skips flat fees.
func sumSurcharges(ss []domain.Surcharge, percentOnly bool) decimal.Decimal {
	total := money.Zero
	for _, s := range ss {
		if percentOnly && s.IsFlat() {
			continue
		}
		total = total.Add(s.Amount)
	}
	return total
}
