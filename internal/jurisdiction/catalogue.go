package jurisdiction

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/money"
)

var dec = money.MustParse

var catalogue = map[string]*Rules{
	"CA": california(),
	"TX": texas(),
	"NY": newYork(),
	"FL": florida(),
	"MI": michigan(),
	"IL": illinois(),
}

// defaultFactorBounds are the per-factor ranges shared by every state unless overridden.
func defaultFactorBounds() map[string]Bounds {
	return map[string]Bounds{
		domain.FactorTerritory:        {Min: dec("0.5"), Max: dec("2.5")},
		domain.FactorDriverAge:        {Min: dec("0.6"), Max: dec("2.5")},
		domain.FactorExperience:       {Min: dec("0.8"), Max: dec("2.0")},
		domain.FactorVehicleAge:       {Min: dec("0.7"), Max: dec("1.5")},
		domain.FactorSafetyFeatures:   {Min: dec("0.8"), Max: dec("1.0")},
		domain.FactorCredit:           {Min: dec("0.7"), Max: dec("1.5")},
		domain.FactorViolations:       {Min: dec("1.0"), Max: dec("3.0")},
		domain.FactorAccidents:        {Min: dec("1.0"), Max: dec("3.0")},
		domain.FactorAnnualMileage:    {Min: dec("0.8"), Max: dec("1.3")},
		domain.FactorCatastrophe:      {Min: dec("1.0"), Max: dec("1.5")},
		domain.FactorClaimsExperience: {Min: dec("0.8"), Max: dec("1.6")},
		domain.FactorFrequencyModel:   {Min: dec("0.7"), Max: dec("1.4")},
		domain.FactorTrend:            {Min: dec("0.9"), Max: dec("1.3")},
		domain.FactorVehicleUsage:     {Min: dec("0.9"), Max: dec("1.2")},
		"dui":                         {Min: dec("1.0"), Max: dec("4.0")},
	}
}

func defaultDiscounts() map[domain.DiscountType]DiscountRule {
	return map[domain.DiscountType]DiscountRule{
		domain.DiscountMultiPolicy: {Rate: dec("0.10"), Priority: 10, Stackable: true, Description: "two or more active policies"},
		domain.DiscountSafeDriver:  {Rate: dec("0.15"), Priority: 20, Stackable: true, Description: "no violations, accidents or DUIs on any driver"},
		domain.DiscountGoodStudent: {Rate: dec("0.08"), Priority: 30, Stackable: true, Description: "full-time student with qualifying grades"},
		domain.DiscountMilitary:    {Rate: dec("0.12"), Priority: 40, Stackable: false, Description: "active duty or veteran"},
		domain.DiscountSenior:      {Rate: dec("0.05"), Priority: 50, Stackable: true, Description: "primary driver 55 or older"},
		domain.DiscountLoyalty:     {Rate: dec("0.05"), Priority: 60, Stackable: true, Description: "customer for three years or more"},
		domain.DiscountPaidInFull:  {Rate: dec("0.05"), Priority: 70, Stackable: true, Description: "term premium paid up front"},
		domain.DiscountPaperless:   {Rate: dec("0.03"), Priority: 80, Stackable: true, Description: "electronic documents"},
		domain.DiscountAutoPay:     {Rate: dec("0.02"), Priority: 90, Stackable: true, Description: "recurring automatic payment"},
	}
}

// base returns the rules every jurisdiction starts from.
func base(code, name string) *Rules {
	return &Rules{
		Code:               code,
		Name:               name,
		MandatoryCoverages: []domain.CoverageType{domain.CoverageLiability},
		FactorBounds:       defaultFactorBounds(),
		MaxDiscountRate:    dec("0.40"),
		MaxSurchargeRate:   dec("1.50"),
		DUIRates:           []decimal.Decimal{dec("0.50"), dec("1.00"), dec("1.50")},
		SR22Fee:            dec("25.00"),
		YoungDriverBands: []AgeBand{
			{Below: 18, Rate: dec("0.40")},
			{Below: 21, Rate: dec("0.25")},
			{Below: 25, Rate: dec("0.10")},
		},
		InexperiencedBands: []YearsBand{
			{Years: 0, Rate: dec("0.20")},
			{Years: 1, Rate: dec("0.12")},
			{Years: 2, Rate: dec("0.06")},
		},
		LapseBands: []LapseBand{
			{MaxDays: 30, Rate: dec("0.05")},
			{MaxDays: 90, Rate: dec("0.10")},
			{MaxDays: 180, Rate: dec("0.15")},
			{MaxDays: 0, Rate: dec("0.25")},
		},
		// Highest threshold first.
		HighRiskBands: []RiskBand{
			{MinScore: 15, Rate: dec("0.50"), Severity: domain.SeverityVeryHigh, Label: "very_high"},
			{MinScore: 10, Rate: dec("0.30"), Severity: domain.SeverityHigh, Label: "high"},
			{MinScore: 6, Rate: dec("0.15"), Severity: domain.SeverityMedium, Label: "moderate"},
		},
		Vehicle: VehicleRates{
			Sports:     dec("0.15"),
			Luxury:     dec("0.10"),
			Commercial: dec("0.20"),
			Modified:   dec("0.10"),
		},
		CatastropheLoad: 0.10,
		AnnualTrend:     0.04,
		GLM: GLMCoefficients{
			YoungDriver:   0.22,
			SeniorDriver:  0.10,
			Violation:     0.08,
			Accident:      0.12,
			MileagePer10k: 0.04,
			VehicleAge:    -0.005,
		},
		FullCoverageMinimumMultiplier: dec("1.5"),
		BodilyInjuryShare:             dec("0.70"),
		RecommendedLiabilityLimit:     dec("100000"),
		MinimumDriverAge:              16,
		MaxViolations:                 6,
		ExclusiveDiscounts: [][2]domain.DiscountType{
			{domain.DiscountGoodStudent, domain.DiscountSenior},
		},
		Discounts: defaultDiscounts(),
	}
}

// california follows Proposition 103: no credit-based or demographic factors, and
// driving record, experience and mileage must carry the most weight.
func california() *Rules {
	r := base("CA", "California")
	r.BannedFactors = []string{domain.FactorCredit, "credit_score", "gender", "education", "occupation"}
	r.PrimaryFactors = []string{domain.FactorViolations, domain.FactorAccidents, domain.FactorExperience, domain.FactorAnnualMileage}
	r.CatastropheLoad = 0.15
	r.AnnualTrend = 0.045
	r.SR22Fee = dec("25.00")
	// Prop 103 requires a good driver discount of at least 20%.
	r.Discounts[domain.DiscountSafeDriver] = DiscountRule{Rate: dec("0.20"), Priority: 20, Stackable: true, Description: "Prop 103 good driver"}
	return r
}

func texas() *Rules {
	r := base("TX", "Texas")
	r.MaxSurchargeRate = dec("2.00")
	r.CatastropheLoad = 0.20
	r.AnnualTrend = 0.05
	return r
}

func newYork() *Rules {
	r := base("NY", "New York")
	r.MandatoryCoverages = []domain.CoverageType{
		domain.CoverageLiability,
		domain.CoveragePIP,
		domain.CoverageUninsuredMotorist,
	}
	r.MaxDiscountRate = dec("0.35")
	r.MaxSurchargeRate = dec("1.25")
	r.CatastropheLoad = 0.05
	r.SR22Fee = dec("30.00")
	return r
}

func florida() *Rules {
	r := base("FL", "Florida")
	r.MandatoryCoverages = []domain.CoverageType{domain.CoverageLiability, domain.CoveragePIP}
	r.CatastropheLoad = 0.30
	r.AnnualTrend = 0.06
	// FR-44 filings cost more than SR-22.
	r.SR22Fee = dec("40.00")
	return r
}

func michigan() *Rules {
	r := base("MI", "Michigan")
	r.MandatoryCoverages = []domain.CoverageType{domain.CoverageLiability, domain.CoveragePIP}
	r.BannedFactors = []string{"gender", "marital_status", "education", "occupation", "home_ownership"}
	r.CatastropheLoad = 0.05
	r.AnnualTrend = 0.035
	r.SR22Fee = dec("50.00")
	return r
}

func illinois() *Rules {
	r := base("IL", "Illinois")
	r.MandatoryCoverages = []domain.CoverageType{domain.CoverageLiability, domain.CoverageUninsuredMotorist}
	r.CatastropheLoad = 0.08
	return r
}
