package repository

// Schema definitions for the Kestrel store.
// Compatible with both SQLite and PostgreSQL. Decimals are stored as TEXT to
// keep them exact and dates as ISO-8601 TEXT so they compare lexically.

const schemaRateTables = `
CREATE TABLE IF NOT EXISTS rate_tables (
    id TEXT PRIMARY KEY,
    jurisdiction TEXT NOT NULL,
    product TEXT NOT NULL,
    coverage TEXT NOT NULL,
    base_rate TEXT NOT NULL,
    effective_from TEXT NOT NULL,
    expires_on TEXT,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rate_tables_lookup ON rate_tables(jurisdiction, product, coverage, effective_from);
`

const schemaMinimumPremiums = `
CREATE TABLE IF NOT EXISTS minimum_premiums (
    jurisdiction TEXT NOT NULL,
    product TEXT NOT NULL,
    amount TEXT NOT NULL,
    effective_from TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (jurisdiction, product, effective_from)
);
`

const schemaTerritories = `
CREATE TABLE IF NOT EXISTS territories (
    id TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    base_factor TEXT NOT NULL,
    crime_rate REAL NOT NULL DEFAULT 0,
    weather_risk REAL NOT NULL DEFAULT 0,
    traffic_density REAL NOT NULL DEFAULT 0,
    catastrophe_risk REAL NOT NULL DEFAULT 0,
    description TEXT,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (jurisdiction, id)
);
`

// schemaTerritoryZIPs enforces the ZIP partition: a ZIP belongs to at most one
// territory per jurisdiction.
const schemaTerritoryZIPs = `
CREATE TABLE IF NOT EXISTS territory_zips (
    jurisdiction TEXT NOT NULL,
    zip TEXT NOT NULL,
    territory_id TEXT NOT NULL,
    PRIMARY KEY (jurisdiction, zip)
);

CREATE INDEX IF NOT EXISTS idx_territory_zips_territory ON territory_zips(jurisdiction, territory_id);
`

const schemaViolations = `
CREATE TABLE IF NOT EXISTS rating_violations (
    id TEXT PRIMARY KEY,
    calculation_id TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    field TEXT,
    remediation TEXT,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rating_violations_calc ON rating_violations(calculation_id);
CREATE INDEX IF NOT EXISTS idx_rating_violations_jurisdiction ON rating_violations(jurisdiction, recorded_at);
`

const schemaPerformance = `
CREATE TABLE IF NOT EXISTS performance_records (
    id TEXT PRIMARY KEY,
    calculation_id TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    elapsed_ms REAL NOT NULL,
    target_ms REAL NOT NULL,
    cache_hit INTEGER NOT NULL DEFAULT 0,
    slow INTEGER NOT NULL DEFAULT 0,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_performance_records_slow ON performance_records(jurisdiction, slow, recorded_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRateTables,
		schemaMinimumPremiums,
		schemaTerritories,
		schemaTerritoryZIPs,
		schemaViolations,
		schemaPerformance,
	}
}
