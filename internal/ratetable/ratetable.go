// Package ratetable resolves base rates and minimum premiums cache-first and
// publishes new rate rows.
package ratetable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// ErrNotConfigured is returned when no row is active for the requested date.
// It wraps repository.ErrNotFound.
var ErrNotConfigured = fmt.Errorf("rate not configured: %w", repository.ErrNotFound)

// Resolver reads rates through the cache and writes them through the store.
type Resolver struct {
	store domain.RateStore
	cache *cache.Strategy
}

// NewResolver creates a resolver.
func NewResolver(store domain.RateStore, c *cache.Strategy) *Resolver {
	return &Resolver{store: store, cache: c}
}

// GetRate returns the rate row active on asOf. A cache failure degrades to a
// store read; a missing row is never substituted.
func (r *Resolver) GetRate(ctx context.Context, jurisdiction string, product domain.ProductType, coverage domain.CoverageType, asOf time.Time) (*domain.RateTable, error) {
	key := cache.RateKey(jurisdiction, product, coverage, asOf)

	var cached domain.RateTable
	found, err := r.cache.GetJSON(ctx, cache.NamespaceRate, key, &cached)
	if err != nil {
		slog.Warn("rate cache read failed", "key", key, "error", err)
	}
	if found {
		return &cached, nil
	}

	rate, err := r.store.GetActiveRate(ctx, jurisdiction, product, coverage, asOf)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s %s %s on %s: %w", jurisdiction, product, coverage, asOf.Format(time.DateOnly), ErrNotConfigured)
	}
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetJSON(ctx, cache.NamespaceRate, key, rate); err != nil {
		slog.Warn("rate cache write failed", "key", key, "error", err)
	}
	return rate, nil
}

// MinimumPremium returns the minimum premium active on asOf.
func (r *Resolver) MinimumPremium(ctx context.Context, jurisdiction string, product domain.ProductType, asOf time.Time) (*domain.MinimumPremium, error) {
	key := cache.MinimumKey(jurisdiction, product, asOf)

	var cached domain.MinimumPremium
	found, err := r.cache.GetJSON(ctx, cache.NamespaceMinimum, key, &cached)
	if err != nil {
		slog.Warn("minimum premium cache read failed", "key", key, "error", err)
	}
	if found {
		return &cached, nil
	}

	mp, err := r.store.GetMinimumPremium(ctx, jurisdiction, product, asOf)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("minimum premium %s %s on %s: %w", jurisdiction, product, asOf.Format(time.DateOnly), ErrNotConfigured)
	}
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetJSON(ctx, cache.NamespaceMinimum, key, mp); err != nil {
		slog.Warn("minimum premium cache write failed", "key", key, "error", err)
	}
	return mp, nil
}

// Publish stores a rate row, then drops every cached copy of that coverage's
// rates and every cached result of the jurisdiction. It only returns nil once
// both invalidations succeeded.
func (r *Resolver) Publish(ctx context.Context, rate *domain.RateTable) error {
	if err := r.store.SaveRate(ctx, rate); err != nil {
		return err
	}

	if _, err := r.cache.InvalidatePattern(ctx, cache.NamespaceRate, cache.RatePattern(rate.Jurisdiction, rate.Product, rate.Coverage)); err != nil {
		return fmt.Errorf("failed to invalidate cached rates: %w", err)
	}
	if err := r.invalidateResults(ctx, rate.Jurisdiction); err != nil {
		return err
	}

	slog.Info("rate published",
		"jurisdiction", rate.Jurisdiction,
		"product", rate.Product,
		"coverage", rate.Coverage,
		"version", rate.Version,
		"effective_from", rate.EffectiveFrom.Format(time.DateOnly),
	)
	return nil
}

// PublishMinimumPremium stores a minimum premium and invalidates dependents.
func (r *Resolver) PublishMinimumPremium(ctx context.Context, mp *domain.MinimumPremium) error {
	if err := r.store.SaveMinimumPremium(ctx, mp); err != nil {
		return err
	}

	if _, err := r.cache.InvalidatePattern(ctx, cache.NamespaceMinimum, cache.MinimumPattern(mp.Jurisdiction, mp.Product)); err != nil {
		return fmt.Errorf("failed to invalidate cached minimum premiums: %w", err)
	}
	if err := r.invalidateResults(ctx, mp.Jurisdiction); err != nil {
		return err
	}

	slog.Info("minimum premium published",
		"jurisdiction", mp.Jurisdiction,
		"product", mp.Product,
		"amount", mp.Amount.StringFixed(2),
	)
	return nil
}

// Warm loads every rate and minimum premium active on asOf into the cache.
func (r *Resolver) Warm(ctx context.Context, jurisdiction string, asOf time.Time) (rates int, minimums int, err error) {
	active, err := r.store.ListActiveRates(ctx, jurisdiction, asOf)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list rates: %w", err)
	}
	for _, rate := range active {
		key := cache.RateKey(rate.Jurisdiction, rate.Product, rate.Coverage, asOf)
		if err := r.cache.SetJSON(ctx, cache.NamespaceRate, key, rate); err != nil {
			return rates, 0, fmt.Errorf("failed to cache rate %s: %w", key, err)
		}
		rates++
	}

	mins, err := r.store.ListMinimumPremiums(ctx, jurisdiction, asOf)
	if err != nil {
		return rates, 0, fmt.Errorf("failed to list minimum premiums: %w", err)
	}
	for _, mp := range mins {
		key := cache.MinimumKey(mp.Jurisdiction, mp.Product, asOf)
		if err := r.cache.SetJSON(ctx, cache.NamespaceMinimum, key, mp); err != nil {
			return rates, minimums, fmt.Errorf("failed to cache minimum premium %s: %w", key, err)
		}
		minimums++
	}

	return rates, minimums, nil
}

func (r *Resolver) invalidateResults(ctx context.Context, jurisdiction string) error {
	if _, err := r.cache.InvalidatePattern(ctx, cache.NamespaceResult, cache.JurisdictionPattern(jurisdiction)); err != nil {
		return fmt.Errorf("failed to invalidate cached results: %w", err)
	}
	return nil
}
