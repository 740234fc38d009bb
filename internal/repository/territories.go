package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const territoryColumns = `t.id, t.jurisdiction, t.base_factor, t.crime_rate, t.weather_risk,
	t.traffic_density, t.catastrophe_risk, t.description, t.version, t.created_at, t.updated_at`

// ConflictError lists the ZIP codes already owned by other territories.
type ConflictError struct {
	Jurisdiction string
	TerritoryID  string
	// ZIPOwners maps each contested ZIP to the territory that owns it.
	ZIPOwners map[string]string
}

func (e *ConflictError) Error() string {
	zips := make([]string, 0, len(e.ZIPOwners))
	for zip, owner := range e.ZIPOwners {
		zips = append(zips, zip+"->"+owner)
	}
	sort.Strings(zips)
	return fmt.Sprintf("territory %s/%s overlaps existing ZIP assignments: %s",
		e.Jurisdiction, e.TerritoryID, strings.Join(zips, ", "))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// GetTerritoryForZIP resolves the territory that owns a ZIP code.
func (r *SQLRepository) GetTerritoryForZIP(ctx context.Context, jurisdiction string, zip string) (*domain.TerritoryDefinition, error) {
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return nil, fmt.Errorf("%w: zip is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + territoryColumns + `
		FROM territory_zips z
		JOIN territories t ON t.jurisdiction = z.jurisdiction AND t.id = z.territory_id
		WHERE z.jurisdiction = ? AND z.zip = ?
	`

	def, err := scanTerritory(r.db.QueryRowContext(ctx, r.rebind(query), j, zip))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if def.ZIPCodes, err = r.territoryZIPs(ctx, r.db, j, def.ID); err != nil {
		return nil, err
	}
	return def, nil
}

// GetTerritory retrieves a territory definition by ID.
func (r *SQLRepository) GetTerritory(ctx context.Context, jurisdiction string, territoryID string) (*domain.TerritoryDefinition, error) {
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + territoryColumns + `
		FROM territories t
		WHERE t.jurisdiction = ? AND t.id = ?
	`

	def, err := scanTerritory(r.db.QueryRowContext(ctx, r.rebind(query), j, territoryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if def.ZIPCodes, err = r.territoryZIPs(ctx, r.db, j, def.ID); err != nil {
		return nil, err
	}
	return def, nil
}

// ListTerritories returns every territory of a jurisdiction with its ZIP set.
func (r *SQLRepository) ListTerritories(ctx context.Context, jurisdiction string) ([]*domain.TerritoryDefinition, error) {
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + territoryColumns + `
		FROM territories t
		WHERE t.jurisdiction = ?
		ORDER BY t.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), j)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*domain.TerritoryDefinition
	byID := make(map[string]*domain.TerritoryDefinition)
	for rows.Next() {
		def, err := scanTerritory(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
		byID[def.ID] = def
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	zipRows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT territory_id, zip FROM territory_zips
		WHERE jurisdiction = ?
		ORDER BY territory_id, zip
	`), j)
	if err != nil {
		return nil, err
	}
	defer zipRows.Close()

	for zipRows.Next() {
		var territoryID, zip string
		if err := zipRows.Scan(&territoryID, &zip); err != nil {
			return nil, err
		}
		if def, ok := byID[territoryID]; ok {
			def.ZIPCodes = append(def.ZIPCodes, zip)
		}
	}

	return defs, zipRows.Err()
}

// UpsertTerritory replaces a territory and its ZIP set in one transaction and
// bumps its version. A ZIP owned by another territory fails the whole write
// with a *ConflictError.
func (r *SQLRepository) UpsertTerritory(ctx context.Context, def *domain.TerritoryDefinition) error {
	if def == nil || strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("%w: territory id is required", ErrInvalidInput)
	}
	j, err := normJurisdiction(def.Jurisdiction)
	if err != nil {
		return err
	}
	if !def.BaseFactor.IsPositive() {
		return fmt.Errorf("%w: base factor must be positive", ErrInvalidInput)
	}
	zips, err := normalizeZIPs(def.ZIPCodes)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Partition check
	if len(zips) > 0 {
		args := []any{j, def.ID}
		for _, z := range zips {
			args = append(args, z)
		}
		conflictQuery := `
			SELECT zip, territory_id FROM territory_zips
			WHERE jurisdiction = ? AND territory_id <> ? AND zip IN (` + placeholders(len(zips)) + `)
		`
		rows, err := tx.QueryContext(ctx, r.rebind(conflictQuery), args...)
		if err != nil {
			return err
		}
		owners := make(map[string]string)
		for rows.Next() {
			var zip, owner string
			if err := rows.Scan(&zip, &owner); err != nil {
				rows.Close()
				return err
			}
			owners[zip] = owner
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(owners) > 0 {
			return &ConflictError{Jurisdiction: j, TerritoryID: def.ID, ZIPOwners: owners}
		}
	}

	var (
		version   int
		createdAt time.Time
	)
	now := time.Now().UTC()
	err = tx.QueryRowContext(ctx, r.rebind(`
		SELECT version, created_at FROM territories WHERE jurisdiction = ? AND id = ?
	`), j, def.ID).Scan(&version, &createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version, createdAt = 0, now
	case err != nil:
		return err
	}
	version++

	upsert := `
		INSERT INTO territories (
			id, jurisdiction, base_factor, crime_rate, weather_risk, traffic_density,
			catastrophe_risk, description, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jurisdiction, id) DO UPDATE SET
			base_factor = excluded.base_factor,
			crime_rate = excluded.crime_rate,
			weather_risk = excluded.weather_risk,
			traffic_density = excluded.traffic_density,
			catastrophe_risk = excluded.catastrophe_risk,
			description = excluded.description,
			version = excluded.version,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, r.rebind(upsert),
		def.ID, j, def.BaseFactor.String(),
		def.Risk.CrimeRate, def.Risk.WeatherRisk, def.Risk.TrafficDensity, def.Risk.CatastropheRisk,
		def.Description, version, createdAt, now,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`
		DELETE FROM territory_zips WHERE jurisdiction = ? AND territory_id = ?
	`), j, def.ID); err != nil {
		return err
	}
	for _, zip := range zips {
		if _, err := tx.ExecContext(ctx, r.rebind(`
			INSERT INTO territory_zips (jurisdiction, zip, territory_id) VALUES (?, ?, ?)
		`), j, zip, def.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	def.Jurisdiction = j
	def.ZIPCodes = zips
	def.Version = version
	def.CreatedAt = createdAt
	def.UpdatedAt = now
	return nil
}

// DeleteTerritory removes a territory and releases its ZIP codes.
func (r *SQLRepository) DeleteTerritory(ctx context.Context, jurisdiction string, territoryID string) error {
	j, err := normJurisdiction(jurisdiction)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`
		DELETE FROM territory_zips WHERE jurisdiction = ? AND territory_id = ?
	`), j, territoryID); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, r.rebind(`
		DELETE FROM territories WHERE jurisdiction = ? AND id = ?
	`), j, territoryID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQLRepository) territoryZIPs(ctx context.Context, q queryer, jurisdiction, territoryID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, r.rebind(`
		SELECT zip FROM territory_zips
		WHERE jurisdiction = ? AND territory_id = ?
		ORDER BY zip
	`), jurisdiction, territoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zips []string
	for rows.Next() {
		var zip string
		if err := rows.Scan(&zip); err != nil {
			return nil, err
		}
		zips = append(zips, zip)
	}
	return zips, rows.Err()
}

func scanTerritory(row rowScanner) (*domain.TerritoryDefinition, error) {
	var (
		def         domain.TerritoryDefinition
		description sql.NullString
	)
	if err := row.Scan(
		&def.ID, &def.Jurisdiction, &def.BaseFactor,
		&def.Risk.CrimeRate, &def.Risk.WeatherRisk, &def.Risk.TrafficDensity, &def.Risk.CatastropheRisk,
		&description, &def.Version, &def.CreatedAt, &def.UpdatedAt,
	); err != nil {
		return nil, err
	}
	def.Description = description.String
	return &def, nil
}

// normalizeZIPs trims, de-duplicates and sorts a ZIP set.
func normalizeZIPs(in []string) ([]string, error) {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, z := range in {
		z = strings.TrimSpace(z)
		if z == "" {
			return nil, fmt.Errorf("%w: empty zip code", ErrInvalidInput)
		}
		if seen[z] {
			continue
		}
		seen[z] = true
		out = append(out, z)
	}
	sort.Strings(out)
	return out, nil
}
