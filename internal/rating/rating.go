// Package rating orchestrates a premium calculation: lookups, base premium,
// factors, discounts, surcharges, the minimum floor and validation.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/discount"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/factors"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
	"github.com/opensource-finance/kestrel/internal/money"
	"github.com/opensource-finance/kestrel/internal/perf"
	"github.com/opensource-finance/kestrel/internal/ratetable"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/surcharge"
	"github.com/opensource-finance/kestrel/internal/territory"
	"github.com/opensource-finance/kestrel/internal/tier"
)

// EngineVersion is stamped on every result.
const EngineVersion = "kestrel-1.0"

var tracer = otel.Tracer("kestrel-rating")

// Deps are the collaborators of an Orchestrator. Sink and Scorer are optional.
type Deps struct {
	Config      *domain.Config
	Rates       *ratetable.Resolver
	Territories *territory.Manager
	Cache       *cache.Strategy
	Tracker     *perf.Tracker
	Sink        domain.Sink
	Scorer      domain.RiskScorer
}

// Orchestrator prices quotes. Safe for concurrent use; every calculation is
// independent and shares only the caches and stores.
type Orchestrator struct {
	cfg         *domain.Config
	rates       *ratetable.Resolver
	territories *territory.Manager
	cache       *cache.Strategy
	tracker     *perf.Tracker
	sink        domain.Sink
	scorer      domain.RiskScorer
	validator   *rules.Validator
	tiers       *tier.Classifier
	maxDiscount decimal.Decimal
	now         func() time.Time
}

// New wires an orchestrator.
func New(d Deps) (*Orchestrator, error) {
	if d.Config == nil || d.Rates == nil || d.Territories == nil || d.Cache == nil {
		return nil, errors.New("rating: config, rates, territories and cache are required")
	}
	v, err := rules.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to build validator: %w", err)
	}
	tracker := d.Tracker
	if tracker == nil {
		tracker = perf.NewTracker(d.Config.Rating, nil, d.Cache, d.Sink)
	}
	return &Orchestrator{
		cfg:         d.Config,
		rates:       d.Rates,
		territories: d.Territories,
		cache:       d.Cache,
		tracker:     tracker,
		sink:        d.Sink,
		scorer:      d.Scorer,
		validator:   v,
		tiers:       tier.NewClassifier(),
		maxDiscount: money.FromFloat(d.Config.Rating.DefaultMaxDiscountRate),
		now:         time.Now,
	}, nil
}

// Rates exposes the rate resolver for administration.
func (o *Orchestrator) Rates() *ratetable.Resolver { return o.rates }

// Territories exposes the territory manager for administration.
func (o *Orchestrator) Territories() *territory.Manager { return o.territories }

// CalculatePremium prices a quote. Every failure is a *domain.RatingError.
// A slow calculation is recorded, never failed or retried.
func (o *Orchestrator) CalculatePremium(ctx context.Context, in *domain.RatingRequest) (*domain.RatingResult, error) {
	start := o.now()

	ctx, span := tracer.Start(ctx, "rating.CalculatePremium")
	defer span.End()

	if in == nil {
		return nil, domain.NewValidationFailed("request is required", "send a rating request", nil)
	}
	req := in.Clone()
	req.Jurisdiction = jurisdiction.Normalize(req.Jurisdiction)
	req.ZIPCode = strings.TrimSpace(req.ZIPCode)
	span.SetAttributes(
		attribute.String("jurisdiction", req.Jurisdiction),
		attribute.String("product", string(req.Product)),
	)

	result, err := o.calculate(ctx, &req, start)
	if err != nil {
		kind := domain.KindValidationFailed
		var re *domain.RatingError
		if errors.As(err, &re) {
			kind = re.Kind
		}
		o.tracker.RecordFailure(req.Jurisdiction, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		if kind == domain.KindDependencyUnavailable {
			slog.Error("calculation failed", "jurisdiction", req.Jurisdiction, "kind", kind, "error", err)
		} else {
			slog.Debug("calculation rejected", "jurisdiction", req.Jurisdiction, "kind", kind, "error", err)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("calculation_id", result.CalculationID),
		attribute.String("final_premium", money.Format(result.FinalPremium)),
		attribute.Bool("cache_hit", result.Metadata.CacheHit),
	)
	return result, nil
}

func (o *Orchestrator) calculate(ctx context.Context, req *domain.RatingRequest, start time.Time) (*domain.RatingResult, error) {
	jr, err := o.checkRequest(req)
	if err != nil {
		return nil, err
	}

	key := cache.ResultKey(req.Jurisdiction, req.CacheKey())
	var cached domain.RatingResult
	found, err := o.cache.GetJSON(ctx, cache.NamespaceResult, key, &cached)
	if err != nil {
		slog.Warn("result cache read failed", "key", key, "error", err)
	}
	if found {
		cached.Metadata.CacheHit = true
		cached.Metadata.LatencyMs = elapsedMs(start, o.now())
		o.record(ctx, &cached)
		return &cached, nil
	}

	l, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	lookupMs := elapsedMs(start, o.now())

	coverages, base := basePremiums(req, jr, l.rates)

	raw, err := collectFactors(req, jr, l, coverages, base)
	if err != nil {
		return nil, factorError(err)
	}
	applied, factored := applyFactors(base, factors.BoundAll(raw, jr))
	if !factored.IsPositive() {
		return nil, domain.NewValidationFailed("factored premium is not positive", "check the rate rows", nil)
	}

	disc, err := discount.StackDiscounts(factored, discount.Candidates(req, jr), o.maxDiscount, &jr.MaxDiscountRate)
	if err != nil {
		return nil, domain.NewValidationFailed("discount calculation failed", "", err)
	}
	sur, err := surcharge.CalculateAll(req.Drivers, req.Vehicle, jr, factored)
	if err != nil {
		return nil, domain.NewValidationFailed("surcharge calculation failed", "", err)
	}

	minimum := minimumFor(req, jr, l.minimum)
	final := factored.Sub(disc.Total).Add(sur.Total)
	minimumApplied := false
	if final.LessThan(minimum) {
		final, minimumApplied = minimum, true
	}

	result := &domain.RatingResult{
		CalculationID:    uuid.New().String(),
		Jurisdiction:     req.Jurisdiction,
		Product:          req.Product,
		RequestKey:       key,
		Currency:         o.cfg.Rating.Currency,
		BasePremium:      base,
		CoveragePremiums: coverages,
		Factors:          applied,
		FactorProduct:    money.RoundFactor(domain.FactorProduct(applied)),
		FactoredPremium:  factored,
		Discounts:        disc.Applied,
		TotalDiscount:    disc.Total,
		Surcharges:       sur.Surcharges,
		TotalSurcharge:   sur.Total,
		MinimumPremium:   minimum,
		MinimumApplied:   minimumApplied,
		FinalPremium:     final,
		RiskTier:         o.tiers.Classify(applied, sur.Surcharges),
		AIScoreStatus:    domain.AIScoreDisabled,
	}

	violations := o.validator.Validate(&rules.Input{
		Request:         req,
		Rules:           jr,
		Factors:         applied,
		Discounts:       disc.Applied,
		Surcharges:      sur.Surcharges,
		BasePremium:     base,
		FactoredPremium: factored,
		MinimumPremium:  minimum,
		FinalPremium:    final,
		MaxDiscountRate: o.maxDiscount,
	})
	result.Violations = violations
	o.appendViolations(ctx, result.CalculationID, req.Jurisdiction, violations)
	if violations.HasErrors() {
		return nil, domain.NewRegulatoryViolation(violations)
	}

	o.enhance(ctx, req, result)

	result.Metadata = domain.ResultMetadata{
		TraceID:          traceID(ctx),
		CalculatedAt:     o.now().UTC(),
		LookupMs:         lookupMs,
		RateVersion:      rateVersion(coverages),
		TerritoryID:      l.territory.TerritoryID,
		TerritoryVersion: l.territory.Version,
		EngineVersion:    EngineVersion,
	}

	// Identical concurrent requests may both get here; the last write wins.
	if err := o.cache.SetJSON(ctx, cache.NamespaceResult, key, result); err != nil {
		slog.Warn("result cache write failed", "key", key, "error", err)
	}

	result.Metadata.LatencyMs = elapsedMs(start, o.now())
	o.record(ctx, result)
	return result, nil
}

// checkRequest fails fast on anything that needs no lookup.
func (o *Orchestrator) checkRequest(req *domain.RatingRequest) (*jurisdiction.Rules, error) {
	jr, ok := jurisdiction.Lookup(req.Jurisdiction)
	if !ok {
		return nil, domain.NewConfigurationMissing(
			fmt.Sprintf("jurisdiction %q is not configured", req.Jurisdiction),
			"supported jurisdictions: "+strings.Join(jurisdiction.Supported(), ", "), nil)
	}

	switch req.Product {
	case domain.ProductPersonalAuto, domain.ProductCommercialAuto:
	default:
		return nil, domain.NewValidationFailed(fmt.Sprintf("unknown product %q", req.Product), "use personal_auto or commercial_auto", nil)
	}
	if req.EffectiveDate.IsZero() {
		return nil, domain.NewValidationFailed("effective date is required", "set effectiveDate", nil)
	}
	if req.ZIPCode == "" {
		return nil, domain.NewValidationFailed("zip code is required", "set zipCode", nil)
	}
	if len(req.Drivers) == 0 {
		return nil, domain.NewValidationFailed("at least one driver is required", "list the primary driver first", nil)
	}
	if len(req.Coverages) == 0 {
		return nil, domain.NewValidationFailed("at least one coverage is required", "select coverages", nil)
	}

	seen := make(map[domain.CoverageType]bool, len(req.Coverages))
	for _, c := range req.Coverages {
		if seen[c.Type] {
			return nil, domain.NewValidationFailed(fmt.Sprintf("coverage %s selected twice", c.Type), "send each coverage once", nil)
		}
		seen[c.Type] = true
		if !c.Limit.IsPositive() {
			return nil, domain.NewValidationFailed(fmt.Sprintf("coverage %s needs a positive limit", c.Type), "set the coverage limit", nil)
		}
	}

	var missing domain.Violations
	for _, m := range jr.MandatoryCoverages {
		if !seen[m] {
			missing = append(missing, domain.BusinessRuleViolation{
				RuleID:      "REG-003",
				Severity:    domain.ViolationError,
				Message:     fmt.Sprintf("coverage %s is mandatory in %s", m, jr.Code),
				Field:       "coverages",
				Remediation: "add the coverage",
			})
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewRegulatoryViolation(missing)
	}
	return jr, nil
}

// enhance attaches the optional AI score. A failure is logged and recorded on
// the result, never returned.
func (o *Orchestrator) enhance(ctx context.Context, req *domain.RatingRequest, result *domain.RatingResult) {
	if o.scorer == nil {
		return
	}
	score, err := o.scorer.Score(ctx, &domain.ScoreInput{
		Jurisdiction: req.Jurisdiction,
		Customer:     req.Customer,
		Vehicle:      req.Vehicle,
		Drivers:      req.Drivers,
		Signals:      req.Signals,
	})
	if err != nil {
		slog.Warn("risk scorer unavailable",
			"kind", domain.KindOptionalEnhancementFailed,
			"jurisdiction", req.Jurisdiction,
			"error", err,
		)
		result.AIScoreStatus = domain.AIScoreUnavailable
		return
	}
	result.AIScore = score
	result.AIScoreStatus = domain.AIScoreAttached
}

func (o *Orchestrator) appendViolations(ctx context.Context, calculationID, jurisdiction string, v domain.Violations) {
	if o.sink == nil || len(v) == 0 {
		return
	}
	if err := o.sink.AppendViolations(ctx, calculationID, jurisdiction, v); err != nil {
		slog.Error("failed to append violations", "calculation_id", calculationID, "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, result *domain.RatingResult) {
	o.tracker.Record(ctx, &domain.PerformanceRecord{
		CalculationID: result.CalculationID,
		Jurisdiction:  result.Jurisdiction,
		ElapsedMs:     result.Metadata.LatencyMs,
		CacheHit:      result.Metadata.CacheHit,
	})
}

// WarmCaches preloads the active rates, minimum premiums and territories of
// each jurisdiction. Jurisdictions that fail are reported in the joined error;
// the others are still warmed.
func (o *Orchestrator) WarmCaches(ctx context.Context, jurisdictions []string) ([]domain.WarmReport, error) {
	if len(jurisdictions) == 0 {
		jurisdictions = jurisdiction.Supported()
	}
	asOf := o.now().UTC()

	var (
		reports []domain.WarmReport
		errs    []error
	)
	for _, j := range jurisdictions {
		code := jurisdiction.Normalize(j)
		if _, ok := jurisdiction.Lookup(code); !ok {
			errs = append(errs, domain.NewConfigurationMissing(fmt.Sprintf("jurisdiction %q is not configured", j), "", nil))
			continue
		}

		report := domain.WarmReport{Jurisdiction: code}
		var err error
		if report.Rates, report.MinimumPremiums, err = o.rates.Warm(ctx, code, asOf); err != nil {
			errs = append(errs, domain.NewDependencyUnavailable("rate store", err))
			continue
		}
		if report.Territories, report.ZIPCodes, err = o.territories.Warm(ctx, code); err != nil {
			errs = append(errs, domain.NewDependencyUnavailable("territory store", err))
			continue
		}
		slog.Info("cache warmed",
			"jurisdiction", code,
			"rates", report.Rates,
			"minimum_premiums", report.MinimumPremiums,
			"territories", report.Territories,
			"zip_codes", report.ZIPCodes,
		)
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// PerformanceMetrics returns the latency and cache snapshot.
func (o *Orchestrator) PerformanceMetrics() domain.PerformanceMetrics {
	return o.tracker.Metrics()
}

func rateVersion(coverages []domain.CoveragePremium) string {
	parts := make([]string, 0, len(coverages))
	seen := make(map[domain.CoverageType]bool, len(coverages))
	for _, c := range coverages {
		if seen[c.Coverage] {
			continue
		}
		seen[c.Coverage] = true
		parts = append(parts, fmt.Sprintf("%s@%d", c.Coverage, c.RateVersion))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func elapsedMs(from, to time.Time) float64 {
	return float64(to.Sub(from).Microseconds()) / 1000
}
