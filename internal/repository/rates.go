package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const rateColumns = `id, jurisdiction, product, coverage, base_rate, effective_from, expires_on, version`

// GetActiveRate returns the rate row whose window covers asOf. When windows
// overlap, the latest effective date wins, then the highest version.
// There is no fallback to another coverage, product or jurisdiction.
func (r *SQLRepository) GetActiveRate(ctx context.Context, jurisdiction string, product domain.ProductType, coverage domain.CoverageType, asOf time.Time) (*domain.RateTable, error) {
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}

	day := formatDate(asOf)
	query := `
		SELECT ` + rateColumns + `
		FROM rate_tables
		WHERE jurisdiction = ? AND product = ? AND coverage = ?
		  AND effective_from <= ?
		  AND (expires_on IS NULL OR expires_on > ?)
		ORDER BY effective_from DESC, version DESC
		LIMIT 1
	`

	rate, err := scanRate(r.db.QueryRowContext(ctx, r.rebind(query), j, string(product), string(coverage), day, day))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rate, nil
}

// ListActiveRates returns, per product and coverage, the rate active on asOf.
func (r *SQLRepository) ListActiveRates(ctx context.Context, jurisdiction string, asOf time.Time) ([]*domain.RateTable, error) {
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}

	day := formatDate(asOf)
	query := `
		SELECT ` + rateColumns + `
		FROM rate_tables
		WHERE jurisdiction = ?
		  AND effective_from <= ?
		  AND (expires_on IS NULL OR expires_on > ?)
		ORDER BY product, coverage, effective_from DESC, version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), j, day, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []*domain.RateTable
	seen := make(map[string]bool)
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		// Rows are ordered newest first within a product/coverage pair.
		key := string(rate.Product) + "/" + string(rate.Coverage)
		if seen[key] {
			continue
		}
		seen[key] = true
		rates = append(rates, rate)
	}

	return rates, rows.Err()
}

// SaveRate inserts or replaces a rate row. A missing ID is generated and a
// zero version is stored as 1.
func (r *SQLRepository) SaveRate(ctx context.Context, rate *domain.RateTable) error {
	if rate == nil {
		return fmt.Errorf("%w: rate is required", ErrInvalidInput)
	}
	j, err := normJurisdiction(rate.Jurisdiction)
	if err != nil {
		return err
	}
	if rate.Product == "" || rate.Coverage == "" {
		return fmt.Errorf("%w: product and coverage are required", ErrInvalidInput)
	}
	if !rate.BaseRate.IsPositive() {
		return fmt.Errorf("%w: base rate must be positive", ErrInvalidInput)
	}
	if rate.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: effective date is required", ErrInvalidInput)
	}
	if rate.ExpiresOn != nil && !rate.ExpiresOn.After(rate.EffectiveFrom) {
		return fmt.Errorf("%w: expiry must be after the effective date", ErrInvalidInput)
	}

	rate.Jurisdiction = j
	if rate.ID == "" {
		rate.ID = uuid.New().String()
	}
	if rate.Version == 0 {
		rate.Version = 1
	}

	var expires sql.NullString
	if rate.ExpiresOn != nil {
		expires = sql.NullString{String: formatDate(*rate.ExpiresOn), Valid: true}
	}

	query := `
		INSERT INTO rate_tables (
			id, jurisdiction, product, coverage, base_rate, effective_from, expires_on, version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			jurisdiction = excluded.jurisdiction,
			product = excluded.product,
			coverage = excluded.coverage,
			base_rate = excluded.base_rate,
			effective_from = excluded.effective_from,
			expires_on = excluded.expires_on,
			version = excluded.version
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rate.ID, j, string(rate.Product), string(rate.Coverage),
		rate.BaseRate.String(), formatDate(rate.EffectiveFrom), expires, rate.Version,
		time.Now().UTC(),
	)
	return err
}

// GetMinimumPremium returns the minimum premium in force on asOf.
func (r *SQLRepository) GetMinimumPremium(ctx context.Context, jurisdiction string, product domain.ProductType, asOf time.Time) (*domain.MinimumPremium, error) {
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT jurisdiction, product, amount, effective_from
		FROM minimum_premiums
		WHERE jurisdiction = ? AND product = ? AND effective_from <= ?
		ORDER BY effective_from DESC
		LIMIT 1
	`

	mp, err := scanMinimum(r.db.QueryRowContext(ctx, r.rebind(query), j, string(product), formatDate(asOf)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return mp, nil
}

// ListMinimumPremiums returns the minimum premium in force on asOf per product.
func (r *SQLRepository) ListMinimumPremiums(ctx context.Context, jurisdiction string, asOf time.Time) ([]*domain.MinimumPremium, error) {
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT jurisdiction, product, amount, effective_from
		FROM minimum_premiums
		WHERE jurisdiction = ? AND effective_from <= ?
		ORDER BY product, effective_from DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), j, formatDate(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mins []*domain.MinimumPremium
	seen := make(map[domain.ProductType]bool)
	for rows.Next() {
		mp, err := scanMinimum(rows)
		if err != nil {
			return nil, err
		}
		if seen[mp.Product] {
			continue
		}
		seen[mp.Product] = true
		mins = append(mins, mp)
	}

	return mins, rows.Err()
}

// SaveMinimumPremium inserts or replaces the floor effective from a date.
func (r *SQLRepository) SaveMinimumPremium(ctx context.Context, mp *domain.MinimumPremium) error {
	if mp == nil {
		return fmt.Errorf("%w: minimum premium is required", ErrInvalidInput)
	}
	j, err := normJurisdiction(mp.Jurisdiction)
	if err != nil {
		return err
	}
	if mp.Product == "" {
		return fmt.Errorf("%w: product is required", ErrInvalidInput)
	}
	if mp.Amount.IsNegative() {
		return fmt.Errorf("%w: minimum premium cannot be negative", ErrInvalidInput)
	}
	if mp.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: effective date is required", ErrInvalidInput)
	}
	mp.Jurisdiction = j

	query := `
		INSERT INTO minimum_premiums (jurisdiction, product, amount, effective_from, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jurisdiction, product, effective_from) DO UPDATE SET
			amount = excluded.amount
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		j, string(mp.Product), mp.Amount.String(), formatDate(mp.EffectiveFrom), time.Now().UTC(),
	)
	return err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRate(row rowScanner) (*domain.RateTable, error) {
	var (
		rate              domain.RateTable
		product, coverage string
		effective         string
		expires           sql.NullString
	)

	if err := row.Scan(
		&rate.ID, &rate.Jurisdiction, &product, &coverage,
		&rate.BaseRate, &effective, &expires, &rate.Version,
	); err != nil {
		return nil, err
	}

	rate.Product = domain.ProductType(product)
	rate.Coverage = domain.CoverageType(coverage)

	var err error
	if rate.EffectiveFrom, err = parseDate(effective); err != nil {
		return nil, err
	}
	if expires.Valid && strings.TrimSpace(expires.String) != "" {
		exp, err := parseDate(expires.String)
		if err != nil {
			return nil, err
		}
		rate.ExpiresOn = &exp
	}
	return &rate, nil
}

func scanMinimum(row rowScanner) (*domain.MinimumPremium, error) {
	var (
		mp        domain.MinimumPremium
		product   string
		effective string
	)

	if err := row.Scan(&mp.Jurisdiction, &product, &mp.Amount, &effective); err != nil {
		return nil, err
	}
	mp.Product = domain.ProductType(product)

	var err error
	if mp.EffectiveFrom, err = parseDate(effective); err != nil {
		return nil, err
	}
	return &mp, nil
}
