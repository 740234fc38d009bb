package factors

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
	"github.com/opensource-finance/kestrel/internal/money"
)

// Credibility constants of the claims experience factor.
var (
	// CredibilityK is the exposure, in policy years, at which experience is
	// given half weight.
	CredibilityK = decimal.NewFromInt(25)
	// ExpectedFrequency is the manual claim frequency per policy year.
	ExpectedFrequency = dec("0.08")
)

// GLM baseline risk: a 40 year old with a clean record driving a five year
// old vehicle 12,000 miles a year rates 1.0.
const (
	baselineMileage    = 12000
	baselineVehicleAge = 5
)

type creditBand struct {
	atLeast int
	factor  decimal.Decimal
}

var creditBands = []creditBand{
	{800, dec("0.85")},
	{740, dec("0.90")},
	{670, dec("1.00")},
	{580, dec("1.15")},
	{300, dec("1.30")},
}

// Credit rates an insurance credit score in [300, 850].
func Credit(score int) (domain.RatingFactor, error) {
	if score < 300 || score > 850 {
		return domain.RatingFactor{}, outOfDomain("credit_score", score, "must be within [300, 850]")
	}
	for _, b := range creditBands {
		if score >= b.atLeast {
			return newFactor(domain.FactorCredit, SourceSignals, b.factor), nil
		}
	}
	return newFactor(domain.FactorCredit, SourceSignals, creditBands[len(creditBands)-1].factor), nil
}

// ClaimsExperience blends the customer's observed claim frequency with the
// manual frequency using limited-fluctuation credibility Z = n / (n + k).
func ClaimsExperience(c domain.Customer) (domain.RatingFactor, error) {
	if c.TenureYears < 0 || c.PriorClaims < 0 {
		return domain.RatingFactor{}, outOfDomain("customer", c.ID, "tenure and prior claims must not be negative")
	}
	if c.TenureYears == 0 {
		return newFactor(domain.FactorClaimsExperience, SourceStatistical, money.One), nil
	}

	exposure := decimal.NewFromInt(int64(c.TenureYears))
	z := exposure.Div(exposure.Add(CredibilityK))
	observed := decimal.NewFromInt(int64(c.PriorClaims)).Div(exposure)
	relativity := observed.Div(ExpectedFrequency)

	f := z.Mul(relativity).Add(money.One.Sub(z))
	return newFactor(domain.FactorClaimsExperience, SourceStatistical, money.RoundFactor(f)), nil
}

// FrequencyInput is the covariate vector of the frequency model.
type FrequencyInput struct {
	PrimaryAge    int
	Violations    int
	Accidents     int
	AnnualMileage int
	VehicleAge    int
}

// FrequencyModel evaluates the log-link frequency GLM relative to the
// baseline risk: exp(β·x − β·x_base).
func FrequencyModel(in FrequencyInput, coef jurisdiction.GLMCoefficients) (domain.RatingFactor, error) {
	if in.PrimaryAge < 16 || in.Violations < 0 || in.Accidents < 0 || in.AnnualMileage < 0 || in.AnnualMileage > MaxAnnualMileage {
		return domain.RatingFactor{}, outOfDomain("frequency_model", in, "covariates outside the fitted range")
	}

	var young, senior float64
	if in.PrimaryAge < 25 {
		young = 1
	}
	if in.PrimaryAge >= 75 {
		senior = 1
	}

	eta := coef.YoungDriver*young +
		coef.SeniorDriver*senior +
		coef.Violation*float64(in.Violations) +
		coef.Accident*float64(in.Accidents) +
		coef.MileagePer10k*float64(in.AnnualMileage-baselineMileage)/10000 +
		coef.VehicleAge*float64(in.VehicleAge-baselineVehicleAge)

	return newFactor(domain.FactorFrequencyModel, SourceStatistical, money.RoundFactor(money.FromFloat(math.Exp(eta)))), nil
}
