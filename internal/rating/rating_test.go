package rating

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ratetable"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/territory"
)

type fixture struct {
	orch *Orchestrator
	repo *repository.SQLRepository
	sink *recordingSink
}

type recordingSink struct {
	domain.Sink
	mu         sync.Mutex
	violations map[string]domain.Violations
}

func (s *recordingSink) AppendViolations(ctx context.Context, calculationID, jurisdiction string, v domain.Violations) error {
	s.mu.Lock()
	s.violations[calculationID] = v
	s.mu.Unlock()
	return s.Sink.AppendViolations(ctx, calculationID, jurisdiction, v)
}

type stubScorer struct {
	score *domain.AIRiskScore
	err   error
}

func (s stubScorer) Score(ctx context.Context, in *domain.ScoreInput) (*domain.AIRiskScore, error) {
	return s.score, s.err
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T, scorer domain.RiskScorer) *fixture {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "rating.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	orch, sink := newOrchestrator(t, repo, scorer)
	return &fixture{orch: orch, repo: repo, sink: sink}
}

// newOrchestrator builds an orchestrator with its own empty caches over repo.
func newOrchestrator(t *testing.T, repo *repository.SQLRepository, scorer domain.RiskScorer) (*Orchestrator, *recordingSink) {
	t.Helper()

	strategy := cache.NewStrategy(cache.NewLRUCache(1000), domain.CacheConfig{})
	sink := &recordingSink{Sink: repo, violations: make(map[string]domain.Violations)}

	orch, err := New(Deps{
		Config:      domain.DefaultConfig(),
		Rates:       ratetable.NewResolver(repo, strategy),
		Territories: territory.NewManager(repo, strategy),
		Cache:       strategy,
		Sink:        sink,
		Scorer:      scorer,
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return orch, sink
}

// seed publishes rates, a minimum premium and one territory for a jurisdiction.
func (f *fixture) seed(t *testing.T, jurisdiction string, minimum string, coverages ...domain.CoverageType) {
	t.Helper()
	ctx := context.Background()

	rates := map[domain.CoverageType]string{
		domain.CoverageLiability:         "6.50",
		domain.CoverageCollision:         "9.00",
		domain.CoverageComprehensive:     "4.00",
		domain.CoverageUninsuredMotorist: "1.50",
		domain.CoveragePIP:               "3.00",
	}
	for _, c := range coverages {
		err := f.orch.Rates().Publish(ctx, &domain.RateTable{
			Jurisdiction:  jurisdiction,
			Product:       domain.ProductPersonalAuto,
			Coverage:      c,
			BaseRate:      dec(rates[c]),
			EffectiveFrom: day("2025-01-01"),
		})
		if err != nil {
			t.Fatalf("failed to publish %s rate: %v", c, err)
		}
	}

	if minimum != "" {
		err := f.orch.Rates().PublishMinimumPremium(ctx, &domain.MinimumPremium{
			Jurisdiction:  jurisdiction,
			Product:       domain.ProductPersonalAuto,
			Amount:        dec(minimum),
			EffectiveFrom: day("2025-01-01"),
		})
		if err != nil {
			t.Fatalf("failed to publish minimum premium: %v", err)
		}
	}

	err := f.orch.Territories().Upsert(ctx, &domain.TerritoryDefinition{
		ID:           jurisdiction + "-01",
		Jurisdiction: jurisdiction,
		ZIPCodes:     []string{"90001", "90002"},
		BaseFactor:   dec("1.10"),
		Risk: domain.RiskFactors{
			CrimeRate:       0.3,
			WeatherRisk:     0.2,
			TrafficDensity:  0.5,
			CatastropheRisk: 0.2,
		},
	})
	if err != nil {
		t.Fatalf("failed to upsert territory: %v", err)
	}
}

var fullCoverage = []domain.CoverageType{
	domain.CoverageLiability,
	domain.CoverageCollision,
	domain.CoverageComprehensive,
	domain.CoverageUninsuredMotorist,
}

func cleanRequest(jurisdiction string) *domain.RatingRequest {
	return &domain.RatingRequest{
		Jurisdiction:  jurisdiction,
		Product:       domain.ProductPersonalAuto,
		EffectiveDate: day("2026-03-01"),
		ZIPCode:       "90001",
		Vehicle: domain.Vehicle{
			VIN:           "1HGCM82633A004352",
			Year:          2022,
			Make:          "Honda",
			Model:         "Accord",
			Class:         domain.VehicleStandard,
			Usage:         domain.UsageCommute,
			AnnualMileage: 12000,
			Value:         dec("28000"),
		},
		Drivers: []domain.Driver{
			{ID: "d1", Age: 40, YearsLicensed: 20},
		},
		Coverages: []domain.CoverageSelection{
			{Type: domain.CoverageLiability, Limit: dec("100000")},
			{Type: domain.CoverageCollision, Limit: dec("30000"), Deductible: dec("500")},
			{Type: domain.CoverageComprehensive, Limit: dec("30000"), Deductible: dec("500")},
			{Type: domain.CoverageUninsuredMotorist, Limit: dec("100000")},
		},
	}
}

func assertKind(t *testing.T, err error, kind domain.ErrorKind) *domain.RatingError {
	t.Helper()
	var re *domain.RatingError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RatingError of kind %s, got %v", kind, err)
	}
	if re.Kind != kind {
		t.Fatalf("expected kind %s, got %s: %v", kind, re.Kind, err)
	}
	return re
}

func hasRule(v domain.Violations, id string) bool {
	for _, x := range v {
		if x.RuleID == id {
			return true
		}
	}
	return false
}

func TestCalculatePremium(t *testing.T) {
	ctx := context.Background()

	t.Run("CleanQuote", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "CA", "300", fullCoverage...)

		res, err := f.orch.CalculatePremium(ctx, cleanRequest("CA"))
		if err != nil {
			t.Fatalf("calculation failed: %v", err)
		}

		if res.Violations.HasErrors() {
			t.Errorf("unexpected error violations: %v", res.Violations.Errors())
		}
		if res.CalculationID == "" || res.Metadata.EngineVersion != EngineVersion {
			t.Errorf("metadata not populated: %+v", res.Metadata)
		}
		if res.Metadata.TerritoryID != "CA-01" || res.Metadata.CacheHit {
			t.Errorf("unexpected metadata %+v", res.Metadata)
		}
		// liability is priced as bodily injury and property damage
		if len(res.CoveragePremiums) != 5 {
			t.Fatalf("expected 5 coverage premiums, got %d", len(res.CoveragePremiums))
		}
		// liability 100000 × 6.50 / 1000 = 650, split 70/30
		bi, pd := res.CoveragePremiums[0], res.CoveragePremiums[1]
		if bi.Component != domain.ComponentBodilyInjury || !bi.Premium.Equal(dec("455")) {
			t.Errorf("expected bodily injury premium 455, got %s %s", bi.Component, bi.Premium)
		}
		if pd.Component != domain.ComponentPropertyDamage || !pd.Premium.Equal(dec("195")) {
			t.Errorf("expected property damage premium 195, got %s %s", pd.Component, pd.Premium)
		}
		if bi.Coverage != domain.CoverageLiability || pd.Coverage != domain.CoverageLiability {
			t.Errorf("expected both components under liability, got %s/%s", bi.Coverage, pd.Coverage)
		}
		if !bi.Limit.Equal(dec("100000")) || !pd.Limit.Equal(dec("100000")) {
			t.Errorf("components must carry the selected limit, got %s/%s", bi.Limit, pd.Limit)
		}
		sum := decimal.Zero
		for _, c := range res.CoveragePremiums {
			sum = sum.Add(c.Premium)
		}
		if !sum.Equal(res.BasePremium) {
			t.Errorf("coverage premiums sum to %s, base is %s", sum, res.BasePremium)
		}
		// 650 + 270 + 120 + 150
		if !res.BasePremium.Equal(dec("1190")) {
			t.Errorf("expected base 1190, got %s", res.BasePremium)
		}

		want := res.FactoredPremium.Sub(res.TotalDiscount).Add(res.TotalSurcharge)
		if want.LessThan(res.MinimumPremium) {
			want = res.MinimumPremium
		}
		if !res.FinalPremium.Equal(want) {
			t.Errorf("final %s does not reconcile to %s", res.FinalPremium, want)
		}
		if res.FinalPremium.LessThan(res.MinimumPremium) {
			t.Errorf("final %s below minimum %s", res.FinalPremium, res.MinimumPremium)
		}
		// 300 × 1.5 with both physical damage coverages
		if !res.MinimumPremium.Equal(dec("450")) {
			t.Errorf("expected scaled minimum 450, got %s", res.MinimumPremium)
		}

		var safe bool
		for _, d := range res.Discounts {
			if d.Type == domain.DiscountSafeDriver {
				safe = true
			}
		}
		if !safe {
			t.Error("expected the safe driver discount on a clean record")
		}
		if res.AIScoreStatus != domain.AIScoreDisabled || res.AIScore != nil {
			t.Errorf("expected AI score disabled, got %s", res.AIScoreStatus)
		}
		if res.RiskTier == "" {
			t.Error("expected a risk tier")
		}
	})

	t.Run("CaliforniaThreeCoverageQuote", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "CA", "300", fullCoverage...)

		req := &domain.RatingRequest{
			Jurisdiction:  "CA",
			Product:       domain.ProductPersonalAuto,
			EffectiveDate: day("2026-03-01"),
			ZIPCode:       "90001",
			Vehicle: domain.Vehicle{
				VIN:           "2T1BURHE0LC123456",
				Year:          2020,
				Make:          "Toyota",
				Model:         "Corolla",
				Class:         domain.VehicleStandard,
				Usage:         domain.UsageCommute,
				AnnualMileage: 11000,
				Value:         dec("18000"),
			},
			Drivers: []domain.Driver{{ID: "d1", Age: 38, YearsLicensed: 20}},
			Coverages: []domain.CoverageSelection{
				{Type: domain.CoverageLiability, Limit: dec("100000")},
				{Type: domain.CoverageCollision, Limit: dec("50000"), Deductible: dec("500")},
				{Type: domain.CoverageComprehensive, Limit: dec("50000"), Deductible: dec("250")},
			},
		}

		res, err := f.orch.CalculatePremium(ctx, req)
		if err != nil {
			t.Fatalf("calculation failed: %v", err)
		}
		if !res.FinalPremium.IsPositive() {
			t.Errorf("expected a positive premium, got %s", res.FinalPremium)
		}
		if len(res.CoveragePremiums) != 4 {
			t.Fatalf("expected 4 coverage premiums, got %d: %+v", len(res.CoveragePremiums), res.CoveragePremiums)
		}
		if res.Violations.HasErrors() {
			t.Errorf("unexpected error violations: %s", res.Violations.Errors().Combined())
		}
		// 650 + 450 + 200
		if !res.BasePremium.Equal(dec("1300")) {
			t.Errorf("expected base 1300, got %s", res.BasePremium)
		}
		if !hasRule(res.Violations, "COV-005") {
			t.Error("expected an informational note for the missing uninsured motorist coverage")
		}
	})

	t.Run("FactorsWithinBounds", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "TX", "300", fullCoverage...)

		req := cleanRequest("TX")
		req.Drivers[0] = domain.Driver{ID: "d1", Age: 17, YearsLicensed: 1, Violations: 4, Accidents: 3}
		req.Vehicle.Class = domain.VehicleSports
		req.Vehicle.AnnualMileage = 40000

		res, err := f.orch.CalculatePremium(ctx, req)
		if err != nil {
			t.Fatalf("calculation failed: %v", err)
		}
		for i, af := range res.Factors {
			if af.Value.LessThan(af.Min) || af.Value.GreaterThan(af.Max) {
				t.Errorf("factor %s=%s outside [%s, %s]", af.Name, af.Value, af.Min, af.Max)
			}
			if i > 0 && af.PremiumBefore.IsZero() {
				t.Errorf("factor %s has no running premium", af.Name)
			}
		}
		if res.RiskTier == domain.TierPreferred {
			t.Errorf("high risk driver classified as preferred")
		}
	})

	t.Run("DUISurcharges", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "TX", "300", fullCoverage...)

		req := cleanRequest("TX")
		req.Drivers[0].DUIs = 2

		res, err := f.orch.CalculatePremium(ctx, req)
		if err != nil {
			t.Fatalf("calculation failed: %v", err)
		}
		var dui, sr22 bool
		for _, s := range res.Surcharges {
			switch s.Category {
			case domain.SurchargeDUI:
				dui = true
				if s.Severity != domain.SeverityVeryHigh {
					t.Errorf("expected very high severity for 2 DUIs, got %s", s.Severity)
				}
			case domain.SurchargeSR22:
				sr22 = true
				if !s.Amount.Equal(dec("25")) {
					t.Errorf("expected SR-22 fee 25, got %s", s.Amount)
				}
			}
		}
		if !dui || !sr22 {
			t.Errorf("expected DUI and SR-22 surcharges, got %+v", res.Surcharges)
		}
		for _, d := range res.Discounts {
			if d.Type == domain.DiscountSafeDriver {
				t.Error("safe driver discount applied to a DUI record")
			}
		}
		if res.RiskTier == domain.TierPreferred || res.RiskTier == domain.TierStandard {
			t.Errorf("expected at least non_standard tier, got %s", res.RiskTier)
		}
	})

	t.Run("MinimumApplied", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "TX", "20000", fullCoverage...)

		res, err := f.orch.CalculatePremium(ctx, cleanRequest("TX"))
		if err != nil {
			t.Fatalf("calculation failed: %v", err)
		}
		if !res.MinimumApplied || !res.FinalPremium.Equal(dec("30000")) {
			t.Errorf("expected the 30000 floor, got %s applied=%v", res.FinalPremium, res.MinimumApplied)
		}
	})

	t.Run("CreditBannedInCalifornia", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "CA", "300", fullCoverage...)

		score := 720
		req := cleanRequest("CA")
		req.Signals = &domain.ExternalSignals{CreditScore: &score}

		_, err := f.orch.CalculatePremium(ctx, req)
		re := assertKind(t, err, domain.KindRegulatoryViolation)
		if !hasRule(re.Violations, "REG-001") {
			t.Errorf("expected REG-001, got %v", re.Violations)
		}
		if len(f.sink.violations) != 1 {
			t.Errorf("expected the report in the sink, got %d reports", len(f.sink.violations))
		}
	})

	t.Run("CreditAllowedInTexas", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "TX", "300", fullCoverage...)

		score := 720
		req := cleanRequest("TX")
		req.Signals = &domain.ExternalSignals{CreditScore: &score}

		res, err := f.orch.CalculatePremium(ctx, req)
		if err != nil {
			t.Fatalf("calculation failed: %v", err)
		}
		var credit bool
		for _, af := range res.Factors {
			if af.Name == domain.FactorCredit {
				credit = true
			}
		}
		if !credit {
			t.Error("expected a credit factor")
		}
	})

	t.Run("MandatoryCoverage", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "NY", "300", fullCoverage...)

		_, err := f.orch.CalculatePremium(ctx, cleanRequest("NY"))
		re := assertKind(t, err, domain.KindRegulatoryViolation)
		if !hasRule(re.Violations, "REG-003") {
			t.Errorf("expected REG-003, got %v", re.Violations)
		}
	})

	t.Run("ConfigurationMissing", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "CA", "300", fullCoverage...)
		f.seed(t, "TX", "", fullCoverage...)

		unknownZIP := cleanRequest("CA")
		unknownZIP.ZIPCode = "94105"

		noRate := cleanRequest("CA")
		noRate.Coverages = append(noRate.Coverages, domain.CoverageSelection{Type: domain.CoverageMedicalPayments, Limit: dec("5000")})

		tests := []struct {
			name string
			req  *domain.RatingRequest
		}{
			{"unknown jurisdiction", cleanRequest("ZZ")},
			{"no territory", unknownZIP},
			{"no rate", noRate},
			{"no minimum premium", cleanRequest("TX")},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.orch.CalculatePremium(ctx, tt.req)
				assertKind(t, err, domain.KindConfigurationMissing)
			})
		}
	})

	t.Run("ValidationFailed", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "CA", "300", fullCoverage...)

		noDrivers := cleanRequest("CA")
		noDrivers.Drivers = nil

		dupCoverage := cleanRequest("CA")
		dupCoverage.Coverages = append(dupCoverage.Coverages, dupCoverage.Coverages[0])

		badProduct := cleanRequest("CA")
		badProduct.Product = "homeowners"

		tooYoung := cleanRequest("CA")
		tooYoung.Drivers[0] = domain.Driver{ID: "d1", Age: 12}

		tests := []struct {
			name string
			req  *domain.RatingRequest
		}{
			{"nil request", nil},
			{"no drivers", noDrivers},
			{"duplicate coverage", dupCoverage},
			{"unknown product", badProduct},
			{"driver age out of domain", tooYoung},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.orch.CalculatePremium(ctx, tt.req)
				assertKind(t, err, domain.KindValidationFailed)
			})
		}
	})

	t.Run("ResultCache", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "CA", "300", fullCoverage...)

		first, err := f.orch.CalculatePremium(ctx, cleanRequest("CA"))
		if err != nil {
			t.Fatalf("first calculation failed: %v", err)
		}
		second, err := f.orch.CalculatePremium(ctx, cleanRequest("ca"))
		if err != nil {
			t.Fatalf("second calculation failed: %v", err)
		}
		if !second.Metadata.CacheHit {
			t.Error("expected the second identical request to hit the result cache")
		}
		if second.CalculationID != first.CalculationID || !second.FinalPremium.Equal(first.FinalPremium) {
			t.Errorf("cached result differs: %s/%s vs %s/%s",
				first.CalculationID, first.FinalPremium, second.CalculationID, second.FinalPremium)
		}
		if first.Metadata.CacheHit {
			t.Error("original result must not be marked as a cache hit")
		}
	})

	t.Run("IdempotentAcrossColdCaches", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "CA", "300", fullCoverage...)

		first, err := f.orch.CalculatePremium(ctx, cleanRequest("CA"))
		if err != nil {
			t.Fatalf("first calculation failed: %v", err)
		}

		cold, _ := newOrchestrator(t, f.repo, nil)
		second, err := cold.CalculatePremium(ctx, cleanRequest("CA"))
		if err != nil {
			t.Fatalf("second calculation failed: %v", err)
		}
		if second.Metadata.CacheHit {
			t.Fatal("expected a fresh calculation on empty caches")
		}

		fields := []struct {
			name      string
			got, want decimal.Decimal
		}{
			{"basePremium", second.BasePremium, first.BasePremium},
			{"factoredPremium", second.FactoredPremium, first.FactoredPremium},
			{"totalDiscount", second.TotalDiscount, first.TotalDiscount},
			{"totalSurcharge", second.TotalSurcharge, first.TotalSurcharge},
			{"minimumPremium", second.MinimumPremium, first.MinimumPremium},
			{"finalPremium", second.FinalPremium, first.FinalPremium},
		}
		for _, fd := range fields {
			if !fd.got.Equal(fd.want) {
				t.Errorf("%s differs: %s vs %s", fd.name, fd.got, fd.want)
			}
		}
		if len(second.CoveragePremiums) != len(first.CoveragePremiums) {
			t.Fatalf("coverage premiums differ: %d vs %d", len(second.CoveragePremiums), len(first.CoveragePremiums))
		}
		for i := range first.CoveragePremiums {
			if !second.CoveragePremiums[i].Premium.Equal(first.CoveragePremiums[i].Premium) {
				t.Errorf("coverage %d premium differs: %s vs %s", i, second.CoveragePremiums[i].Premium, first.CoveragePremiums[i].Premium)
			}
		}
		if len(second.Factors) != len(first.Factors) {
			t.Fatalf("factors differ: %d vs %d", len(second.Factors), len(first.Factors))
		}
		for i := range first.Factors {
			if second.Factors[i].Name != first.Factors[i].Name || !second.Factors[i].Value.Equal(first.Factors[i].Value) {
				t.Errorf("factor %d differs: %s=%s vs %s=%s", i,
					second.Factors[i].Name, second.Factors[i].Value, first.Factors[i].Name, first.Factors[i].Value)
			}
		}
	})

	t.Run("PublishInvalidatesResults", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "CA", "300", fullCoverage...)

		before, err := f.orch.CalculatePremium(ctx, cleanRequest("CA"))
		if err != nil {
			t.Fatalf("calculation failed: %v", err)
		}

		err = f.orch.Rates().Publish(ctx, &domain.RateTable{
			Jurisdiction:  "CA",
			Product:       domain.ProductPersonalAuto,
			Coverage:      domain.CoverageLiability,
			BaseRate:      dec("8.00"),
			EffectiveFrom: day("2026-01-01"),
		})
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		after, err := f.orch.CalculatePremium(ctx, cleanRequest("CA"))
		if err != nil {
			t.Fatalf("calculation failed: %v", err)
		}
		if after.Metadata.CacheHit {
			t.Error("expected a fresh calculation after a rate change")
		}
		if !after.BasePremium.GreaterThan(before.BasePremium) {
			t.Errorf("expected base to rise from %s, got %s", before.BasePremium, after.BasePremium)
		}
	})

	t.Run("ScorerFailureIsNotFatal", func(t *testing.T) {
		f := newFixture(t, stubScorer{err: errors.New("connection refused")})
		f.seed(t, "CA", "300", fullCoverage...)

		res, err := f.orch.CalculatePremium(ctx, cleanRequest("CA"))
		if err != nil {
			t.Fatalf("scorer failure must not fail the calculation: %v", err)
		}
		if res.AIScoreStatus != domain.AIScoreUnavailable || res.AIScore != nil {
			t.Errorf("expected unavailable status, got %s", res.AIScoreStatus)
		}
	})

	t.Run("ScorerAttached", func(t *testing.T) {
		f := newFixture(t, stubScorer{score: &domain.AIRiskScore{Score: 0.42, Confidence: 0.9}})
		f.seed(t, "CA", "300", fullCoverage...)

		res, err := f.orch.CalculatePremium(ctx, cleanRequest("CA"))
		if err != nil {
			t.Fatalf("calculation failed: %v", err)
		}
		if res.AIScoreStatus != domain.AIScoreAttached || res.AIScore == nil || res.AIScore.Score != 0.42 {
			t.Errorf("expected attached score, got %s %+v", res.AIScoreStatus, res.AIScore)
		}
	})

	t.Run("RequestNotMutated", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "CA", "300", fullCoverage...)

		req := cleanRequest("ca")
		req.ZIPCode = " 90001 "
		if _, err := f.orch.CalculatePremium(ctx, req); err != nil {
			t.Fatalf("calculation failed: %v", err)
		}
		if req.Jurisdiction != "ca" || req.ZIPCode != " 90001 " {
			t.Errorf("caller's request was modified: %q %q", req.Jurisdiction, req.ZIPCode)
		}
	})
}

func TestCalculatePremiumConcurrent(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CA", "300", fullCoverage...)

	var wg sync.WaitGroup
	results := make([]*domain.RatingResult, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := cleanRequest("CA")
			req.Drivers[0].Age = 30 + i
			results[i], errs[i] = f.orch.CalculatePremium(context.Background(), req)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("calculation %d failed: %v", i, err)
		}
		if results[i].FinalPremium.LessThan(results[i].MinimumPremium) {
			t.Errorf("calculation %d below minimum", i)
		}
	}
}

func TestWarmCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(t, "CA", "300", fullCoverage...)

	reports, err := f.orch.WarmCaches(ctx, []string{"ca", "ZZ"})
	if !domain.IsKind(err, domain.KindConfigurationMissing) {
		t.Errorf("expected the unknown jurisdiction reported, got %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	want := domain.WarmReport{Jurisdiction: "CA", Rates: 4, MinimumPremiums: 1, Territories: 1, ZIPCodes: 2}
	if reports[0] != want {
		t.Errorf("expected %+v, got %+v", want, reports[0])
	}
}

func TestPerformanceMetrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(t, "CA", "300", fullCoverage...)

	for range 3 {
		if _, err := f.orch.CalculatePremium(ctx, cleanRequest("CA")); err != nil {
			t.Fatalf("calculation failed: %v", err)
		}
	}
	f.orch.CalculatePremium(ctx, cleanRequest("ZZ"))

	m := f.orch.PerformanceMetrics()
	if m.TotalCalculations != 4 || m.Failures != 1 {
		t.Errorf("expected 4 calculations and 1 failure, got %d and %d", m.TotalCalculations, m.Failures)
	}
	if m.ResultCacheHits != 2 {
		t.Errorf("expected 2 result cache hits, got %d", m.ResultCacheHits)
	}
	if m.WindowSize != 3 {
		t.Errorf("expected 3 samples, got %d", m.WindowSize)
	}
	if m.CacheHits == 0 {
		t.Error("expected cache hits to be counted")
	}
}
