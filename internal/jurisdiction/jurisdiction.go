// Package jurisdiction holds the fixed, code-level rating rules per state.
// Nothing here is configurable at runtime: changing a rule is a code change.
package jurisdiction

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/money"
)

// Bounds is an inclusive factor range.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Contains reports whether v is within the bounds.
func (b Bounds) Contains(v decimal.Decimal) bool {
	return !v.LessThan(b.Min) && !v.GreaterThan(b.Max)
}

// GlobalBounds applies to every factor. Per-factor bounds are intersected with it.
var GlobalBounds = Bounds{Min: money.MustParse("0.1"), Max: money.MustParse("5.0")}

// AgeBand is a surcharge rate for drivers younger than Below.
type AgeBand struct {
	Below int
	Rate  decimal.Decimal
}

// YearsBand is a surcharge rate for drivers licensed for exactly Years.
type YearsBand struct {
	Years int
	Rate  decimal.Decimal
}

// LapseBand is a surcharge rate for lapses up to MaxDays long.
// A MaxDays of zero means unbounded.
type LapseBand struct {
	MaxDays int
	Rate    decimal.Decimal
}

// RiskBand buckets the high-risk score.
type RiskBand struct {
	MinScore int
	Rate     decimal.Decimal
	Severity domain.SurchargeSeverity
	Label    string
}

// VehicleRates holds the vehicle surcharge rates.
type VehicleRates struct {
	Sports     decimal.Decimal
	Luxury     decimal.Decimal
	Commercial decimal.Decimal
	Modified   decimal.Decimal
}

// DiscountRule is the catalogue entry of one discount type.
type DiscountRule struct {
	Rate        decimal.Decimal
	Priority    int
	Stackable   bool
	Description string
}

// GLMCoefficients are the log-link coefficients of the frequency model.
type GLMCoefficients struct {
	YoungDriver   float64 // driver under 25
	SeniorDriver  float64 // driver 75 or older
	Violation     float64 // per violation, worst driver
	Accident      float64 // per accident, worst driver
	MileagePer10k float64
	VehicleAge    float64 // per model year
}

// Rules is the complete rule set of one jurisdiction. Values are shared and must
// be treated as read-only.
type Rules struct {
	Code string
	Name string

	MandatoryCoverages []domain.CoverageType
	BannedFactors      []string

	// PrimaryFactors, when set, must outweigh every other factor.
	PrimaryFactors []string

	FactorBounds map[string]Bounds

	MaxDiscountRate  decimal.Decimal
	MaxSurchargeRate decimal.Decimal

	// DUIRates is indexed by conviction count minus one; the last tier repeats.
	DUIRates []decimal.Decimal
	SR22Fee  decimal.Decimal

	YoungDriverBands   []AgeBand
	InexperiencedBands []YearsBand
	LapseBands         []LapseBand
	HighRiskBands      []RiskBand
	Vehicle            VehicleRates

	CatastropheLoad float64
	AnnualTrend     float64
	GLM             GLMCoefficients

	// FullCoverageMinimumMultiplier scales the minimum premium when collision
	// and comprehensive are both selected.
	FullCoverageMinimumMultiplier decimal.Decimal

	// BodilyInjuryShare is the part of the liability premium priced as bodily
	// injury; property damage takes the rest.
	BodilyInjuryShare decimal.Decimal

	RecommendedLiabilityLimit decimal.Decimal
	MinimumDriverAge          int
	MaxViolations             int

	ExclusiveDiscounts [][2]domain.DiscountType
	Discounts          map[domain.DiscountType]DiscountRule
}

// IsBanned reports whether a factor name may not be used in this jurisdiction.
func (r *Rules) IsBanned(factor string) bool {
	for _, b := range r.BannedFactors {
		if b == factor {
			return true
		}
	}
	return false
}

// IsMandatory reports whether a coverage must be on every quote.
func (r *Rules) IsMandatory(c domain.CoverageType) bool {
	for _, m := range r.MandatoryCoverages {
		if m == c {
			return true
		}
	}
	return false
}

// BoundsFor returns the effective bounds for a factor: the jurisdiction range
// intersected with the global range.
func (r *Rules) BoundsFor(factor string) Bounds {
	b, ok := r.FactorBounds[factor]
	if !ok {
		return GlobalBounds
	}
	return Bounds{
		Min: money.Max(b.Min, GlobalBounds.Min),
		Max: money.Min(b.Max, GlobalBounds.Max),
	}
}

// DUIRate returns the DUI surcharge tier for a conviction count.
func (r *Rules) DUIRate(convictions int) decimal.Decimal {
	if convictions <= 0 || len(r.DUIRates) == 0 {
		return decimal.Zero
	}
	idx := convictions - 1
	if idx >= len(r.DUIRates) {
		idx = len(r.DUIRates) - 1
	}
	return r.DUIRates[idx]
}

// YoungDriverThreshold is the age from which no young driver surcharge applies.
func (r *Rules) YoungDriverThreshold() int {
	if len(r.YoungDriverBands) == 0 {
		return 0
	}
	return r.YoungDriverBands[len(r.YoungDriverBands)-1].Below
}

// DiscountCap returns the stricter of the jurisdiction cap and a caller cap.
func (r *Rules) DiscountCap(requested decimal.Decimal) decimal.Decimal {
	if requested.IsPositive() && requested.LessThan(r.MaxDiscountRate) {
		return requested
	}
	return r.MaxDiscountRate
}

// Exclusive reports whether two discount types may not be combined.
func (r *Rules) Exclusive(a, b domain.DiscountType) bool {
	for _, pair := range r.ExclusiveDiscounts {
		if (pair[0] == a && pair[1] == b) || (pair[0] == b && pair[1] == a) {
			return true
		}
	}
	return false
}

// Lookup returns the rules for a jurisdiction code. Codes are case-insensitive.
func Lookup(code string) (*Rules, bool) {
	r, ok := catalogue[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// Supported lists the configured jurisdiction codes in order.
func Supported() []string {
	codes := make([]string, 0, len(catalogue))
	for code := range catalogue {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Normalize upper-cases and trims a jurisdiction code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
