package factors

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/money"
)

// MaxTrendYears is the longest projection the trend factor accepts.
const MaxTrendYears = 10

// Catastrophe loads the comprehensive share of the premium for territory
// catastrophe exposure: 1 + risk × load × share.
func Catastrophe(catastropheRisk, load float64, comprehensiveShare decimal.Decimal) (domain.RatingFactor, error) {
	if catastropheRisk < 0 || catastropheRisk > 1 {
		return domain.RatingFactor{}, outOfDomain("catastrophe_risk", catastropheRisk, "must be within [0, 1]")
	}
	if comprehensiveShare.IsNegative() || comprehensiveShare.GreaterThan(money.One) {
		return domain.RatingFactor{}, outOfDomain("comprehensive_share", comprehensiveShare, "must be within [0, 1]")
	}

	loading := money.FromFloat(catastropheRisk * load).Mul(comprehensiveShare)
	return newFactor(domain.FactorCatastrophe, SourceTerritory, money.RoundFactor(money.One.Add(loading))), nil
}

// Trend projects the rate level forward: (1 + annual)^years.
func Trend(annual, years float64) (domain.RatingFactor, error) {
	if years < 0 || years > MaxTrendYears {
		return domain.RatingFactor{}, outOfDomain("trend_years", years, "must be within [0, 10]")
	}
	f := math.Pow(1+annual, years)
	return newFactor(domain.FactorTrend, SourceStatistical, money.RoundFactor(money.FromFloat(f))), nil
}

// YearsBetween is the fractional number of years from one date to another.
func YearsBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24 / 365.25
}
