package factors

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MinLicensingAge is the youngest age at which years licensed start counting.
const MinLicensingAge = 14

type ageBand struct {
	upTo   int // inclusive
	factor decimal.Decimal
}

var driverAgeBands = []ageBand{
	{17, dec("2.00")},
	{20, dec("1.70")},
	{24, dec("1.35")},
	{29, dec("1.10")},
	{49, dec("1.00")},
	{64, dec("0.90")},
	{74, dec("1.05")},
	{120, dec("1.25")},
}

var experienceBands = []ageBand{
	{0, dec("1.40")},
	{2, dec("1.25")},
	{5, dec("1.10")},
	{9, dec("1.00")},
}

var experienceVeteran = dec("0.95")

var violationFactors = []decimal.Decimal{dec("1.00"), dec("1.15"), dec("1.35"), dec("1.60"), dec("2.00")}

var accidentFactors = []decimal.Decimal{dec("1.00"), dec("1.25"), dec("1.60"), dec("2.10")}

// DriverAge rates the age of a driver. Ages below 16 or above 120 have no rating.
func DriverAge(age int) (domain.RatingFactor, error) {
	if age < 16 || age > 120 {
		return domain.RatingFactor{}, outOfDomain("driver_age", age, "must be within [16, 120]")
	}
	for _, b := range driverAgeBands {
		if age <= b.upTo {
			return newFactor(domain.FactorDriverAge, SourceDriver, b.factor), nil
		}
	}
	return newFactor(domain.FactorDriverAge, SourceDriver, driverAgeBands[len(driverAgeBands)-1].factor), nil
}

// Experience rates years licensed, which cannot exceed age minus 14.
func Experience(yearsLicensed, age int) (domain.RatingFactor, error) {
	if yearsLicensed < 0 {
		return domain.RatingFactor{}, outOfDomain("years_licensed", yearsLicensed, "must not be negative")
	}
	if age > 0 && yearsLicensed > age-MinLicensingAge {
		return domain.RatingFactor{}, outOfDomain("years_licensed", yearsLicensed, "exceeds driver age minus 14")
	}
	for _, b := range experienceBands {
		if yearsLicensed <= b.upTo {
			return newFactor(domain.FactorExperience, SourceDriver, b.factor), nil
		}
	}
	return newFactor(domain.FactorExperience, SourceDriver, experienceVeteran), nil
}

// Violations rates moving violations over the last three years.
func Violations(count int) (domain.RatingFactor, error) {
	if count < 0 {
		return domain.RatingFactor{}, outOfDomain("violations", count, "must not be negative")
	}
	return newFactor(domain.FactorViolations, SourceDriver, tier(violationFactors, count)), nil
}

// Accidents rates at-fault accidents over the last three years.
func Accidents(count int) (domain.RatingFactor, error) {
	if count < 0 {
		return domain.RatingFactor{}, outOfDomain("accidents", count, "must not be negative")
	}
	return newFactor(domain.FactorAccidents, SourceDriver, tier(accidentFactors, count)), nil
}

// DriverFactors rates a household. Age and experience come from the primary
// driver; violations and accidents from the worst record on the policy.
func DriverFactors(drivers []domain.Driver) ([]domain.RatingFactor, error) {
	if len(drivers) == 0 {
		return nil, outOfDomain("drivers", 0, "at least one driver is required")
	}
	primary := drivers[0]

	age, err := DriverAge(primary.Age)
	if err != nil {
		return nil, err
	}
	experience, err := Experience(primary.YearsLicensed, primary.Age)
	if err != nil {
		return nil, err
	}

	var violations, accidents domain.RatingFactor
	for i, d := range drivers {
		v, err := Violations(d.Violations)
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", d.ID, err)
		}
		a, err := Accidents(d.Accidents)
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", d.ID, err)
		}
		if i == 0 || v.Value.GreaterThan(violations.Value) {
			violations = v
		}
		if i == 0 || a.Value.GreaterThan(accidents.Value) {
			accidents = a
		}
	}

	return []domain.RatingFactor{age, experience, violations, accidents}, nil
}

// tier indexes a factor table; counts past the end use the last entry.
func tier(table []decimal.Decimal, count int) decimal.Decimal {
	if count >= len(table) {
		return table[len(table)-1]
	}
	return table[count]
}
