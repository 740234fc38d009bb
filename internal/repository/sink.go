package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AppendViolations records a calculation's violation report. Append-only.
func (r *SQLRepository) AppendViolations(ctx context.Context, calculationID string, jurisdiction string, violations domain.Violations) error {
	if calculationID == "" {
		return fmt.Errorf("%w: calculation id is required", ErrInvalidInput)
	}
	if len(violations) == 0 {
		return nil
	}
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(`
		INSERT INTO rating_violations (
			id, calculation_id, jurisdiction, rule_id, severity, message, field, remediation, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	now := time.Now().UTC()
	for _, v := range violations {
		if _, err := tx.ExecContext(ctx, query,
			uuid.New().String(), calculationID, j,
			v.RuleID, string(v.Severity), v.Message, v.Field, v.Remediation, now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AppendPerformance records one calculation timing. Append-only.
func (r *SQLRepository) AppendPerformance(ctx context.Context, rec *domain.PerformanceRecord) error {
	if rec == nil || rec.CalculationID == "" {
		return fmt.Errorf("%w: calculation id is required", ErrInvalidInput)
	}
	j, err := normJurisdiction(rec.Jurisdiction)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO performance_records (
			id, calculation_id, jurisdiction, elapsed_ms, target_ms, cache_hit, slow, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.CalculationID, j,
		rec.ElapsedMs, rec.TargetMs, boolToInt(rec.CacheHit), boolToInt(rec.Slow), rec.RecordedAt,
	)
	return err
}

// ListViolations returns the violations recorded for one calculation.
func (r *SQLRepository) ListViolations(ctx context.Context, calculationID string) (domain.Violations, error) {
	query := `
		SELECT rule_id, severity, message, field, remediation
		FROM rating_violations
		WHERE calculation_id = ?
		ORDER BY recorded_at, rule_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), calculationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out domain.Violations
	for rows.Next() {
		var (
			v        domain.BusinessRuleViolation
			severity string
		)
		if err := rows.Scan(&v.RuleID, &severity, &v.Message, &v.Field, &v.Remediation); err != nil {
			return nil, err
		}
		v.Severity = domain.ViolationSeverity(severity)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListSlowCalculations returns the most recent over-budget calculations.
func (r *SQLRepository) ListSlowCalculations(ctx context.Context, jurisdiction string, limit int) ([]*domain.PerformanceRecord, error) {
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, calculation_id, jurisdiction, elapsed_ms, target_ms, cache_hit, slow, recorded_at
		FROM performance_records
		WHERE jurisdiction = ? AND slow = 1
		ORDER BY recorded_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), j, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PerformanceRecord
	for rows.Next() {
		var (
			rec            domain.PerformanceRecord
			cacheHit, slow int
		)
		if err := rows.Scan(
			&rec.ID, &rec.CalculationID, &rec.Jurisdiction,
			&rec.ElapsedMs, &rec.TargetMs, &cacheHit, &slow, &rec.RecordedAt,
		); err != nil {
			return nil, err
		}
		rec.CacheHit = cacheHit == 1
		rec.Slow = slow == 1
		out = append(out, &rec)
	}
	return out, rows.Err()
}
