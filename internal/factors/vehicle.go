package factors

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/money"
)

// MaxAnnualMileage is the highest mileage the mileage curve is defined for.
const MaxAnnualMileage = 150000

var vehicleAgeBands = []ageBand{
	{1, dec("1.15")},
	{3, dec("1.08")},
	{6, dec("1.00")},
	{10, dec("0.92")},
	{15, dec("0.85")},
}

var vehicleAgeClassic = dec("0.80")

var (
	safetyCreditPerFeature = dec("0.03")
	safetyFloor            = dec("0.85")
)

type mileageBand struct {
	below  int
	factor decimal.Decimal
}

var mileageBands = []mileageBand{
	{5000, dec("0.90")},
	{10000, dec("0.95")},
	{15000, dec("1.00")},
	{20000, dec("1.08")},
}

var mileageHigh = dec("1.15")

// Commercial use is priced by the commercial_use surcharge, not this factor.
var usageFactors = map[domain.VehicleUsage]decimal.Decimal{
	domain.UsagePersonal:   dec("0.95"),
	domain.UsageCommute:    dec("1.00"),
	domain.UsageCommercial: dec("1.00"),
}

// VehicleAge rates model-year age. Next year's models have age -1.
func VehicleAge(age int) (domain.RatingFactor, error) {
	if age < -1 || age > 100 {
		return domain.RatingFactor{}, outOfDomain("vehicle_age", age, "must be within [-1, 100]")
	}
	for _, b := range vehicleAgeBands {
		if age <= b.upTo {
			return newFactor(domain.FactorVehicleAge, SourceVehicle, b.factor), nil
		}
	}
	return newFactor(domain.FactorVehicleAge, SourceVehicle, vehicleAgeClassic), nil
}

// SafetyFeatures credits 3% per distinct feature down to 0.85.
func SafetyFeatures(count int) (domain.RatingFactor, error) {
	if count < 0 {
		return domain.RatingFactor{}, outOfDomain("safety_features", count, "must not be negative")
	}
	f := money.One.Sub(safetyCreditPerFeature.Mul(decimal.NewFromInt(int64(count))))
	return newFactor(domain.FactorSafetyFeatures, SourceVehicle, money.Max(f, safetyFloor)), nil
}

// AnnualMileage rates declared annual mileage.
func AnnualMileage(miles int) (domain.RatingFactor, error) {
	if miles < 0 || miles > MaxAnnualMileage {
		return domain.RatingFactor{}, outOfDomain("annual_mileage", miles, "must be within [0, 150000]")
	}
	for _, b := range mileageBands {
		if miles < b.below {
			return newFactor(domain.FactorAnnualMileage, SourceVehicle, b.factor), nil
		}
	}
	return newFactor(domain.FactorAnnualMileage, SourceVehicle, mileageHigh), nil
}

// VehicleUsage rates the primary use of the vehicle.
func VehicleUsage(usage domain.VehicleUsage) (domain.RatingFactor, error) {
	f, ok := usageFactors[usage]
	if !ok {
		return domain.RatingFactor{}, outOfDomain("vehicle_usage", usage, "unknown usage")
	}
	return newFactor(domain.FactorVehicleUsage, SourceVehicle, f), nil
}

// VehicleFactors rates the insured vehicle as of the effective date.
func VehicleFactors(v domain.Vehicle, asOf time.Time) ([]domain.RatingFactor, error) {
	age, err := VehicleAge(v.AgeAt(asOf))
	if err != nil {
		return nil, err
	}
	safety, err := SafetyFeatures(distinct(v.SafetyFeatures))
	if err != nil {
		return nil, err
	}
	mileage, err := AnnualMileage(v.AnnualMileage)
	if err != nil {
		return nil, err
	}

	usage := v.Usage
	if usage == "" {
		usage = domain.UsagePersonal
	}
	use, err := VehicleUsage(usage)
	if err != nil {
		return nil, err
	}

	return []domain.RatingFactor{age, safety, mileage, use}, nil
}

func distinct(items []string) int {
	seen := make(map[string]struct{}, len(items))
	for _, s := range items {
		seen[s] = struct{}{}
	}
	return len(seen)
}
