package rating

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/factors"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// lookups is everything a calculation reads before pricing.
type lookups struct {
	rates     map[domain.CoverageType]*domain.RateTable
	territory *domain.TerritoryFactor
	minimum   *domain.MinimumPremium
	driver    []domain.RatingFactor
	vehicle   []domain.RatingFactor
}

// resolve runs every independent lookup concurrently. The first failure
// cancels the rest and is returned as a *domain.RatingError.
func (o *Orchestrator) resolve(ctx context.Context, req *domain.RatingRequest) (*lookups, error) {
	ctx, span := tracer.Start(ctx, "rating.lookups")
	defer span.End()
	span.SetAttributes(attribute.Int("coverages", len(req.Coverages)))

	out := &lookups{rates: make(map[domain.CoverageType]*domain.RateTable, len(req.Coverages))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for _, c := range req.Coverages {
		coverage := c.Type
		g.Go(func() error {
			rate, err := o.rates.GetRate(gctx, req.Jurisdiction, req.Product, coverage, req.EffectiveDate)
			if err != nil {
				return lookupError("rate store", err,
					fmt.Sprintf("no active %s rate for %s %s", coverage, req.Jurisdiction, req.Product),
					"publish a rate row covering the effective date")
			}
			mu.Lock()
			out.rates[coverage] = rate
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		tf, err := o.territories.Factor(gctx, req.Jurisdiction, req.ZIPCode)
		if err != nil {
			return lookupError("territory store", err,
				fmt.Sprintf("no territory for %s zip %s", req.Jurisdiction, req.ZIPCode),
				"assign the ZIP code to a territory")
		}
		out.territory = tf
		return nil
	})

	g.Go(func() error {
		mp, err := o.rates.MinimumPremium(gctx, req.Jurisdiction, req.Product, req.EffectiveDate)
		if err != nil {
			return lookupError("rate store", err,
				fmt.Sprintf("no minimum premium for %s %s", req.Jurisdiction, req.Product),
				"publish a minimum premium covering the effective date")
		}
		out.minimum = mp
		return nil
	})

	g.Go(func() error {
		fs, err := factors.DriverFactors(req.Drivers)
		if err != nil {
			return factorError(err)
		}
		out.driver = fs
		return nil
	})

	g.Go(func() error {
		fs, err := factors.VehicleFactors(req.Vehicle, req.EffectiveDate)
		if err != nil {
			return factorError(err)
		}
		out.vehicle = fs
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// lookupError classifies a store or cache failure.
func lookupError(dependency string, err error, missing, remediation string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NewConfigurationMissing(missing, remediation, err)
	}
	return domain.NewDependencyUnavailable(dependency, err)
}

func factorError(err error) error {
	if errors.Is(err, factors.ErrOutOfDomain) {
		return domain.NewValidationFailed(err.Error(), "correct the driver and vehicle details", err)
	}
	return domain.NewValidationFailed("factor calculation failed", "", err)
}
