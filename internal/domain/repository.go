// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// RateStore is the store of record for base rates and minimum premiums.
// Lookups never fall back to another row when the exact one is missing.
type RateStore interface {
	// GetActiveRate returns the rate row active on asOf, or repository.ErrNotFound.
	GetActiveRate(ctx context.Context, jurisdiction string, product ProductType, coverage CoverageType, asOf time.Time) (*RateTable, error)
	ListActiveRates(ctx context.Context, jurisdiction string, asOf time.Time) ([]*RateTable, error)
	SaveRate(ctx context.Context, rate *RateTable) error

	GetMinimumPremium(ctx context.Context, jurisdiction string, product ProductType, asOf time.Time) (*MinimumPremium, error)
	ListMinimumPremiums(ctx context.Context, jurisdiction string, asOf time.Time) ([]*MinimumPremium, error)
	SaveMinimumPremium(ctx context.Context, min *MinimumPremium) error
}

// TerritoryStore is the store of record for territory definitions.
type TerritoryStore interface {
	GetTerritoryForZIP(ctx context.Context, jurisdiction string, zip string) (*TerritoryDefinition, error)
	GetTerritory(ctx context.Context, jurisdiction string, territoryID string) (*TerritoryDefinition, error)
	ListTerritories(ctx context.Context, jurisdiction string) ([]*TerritoryDefinition, error)

	// UpsertTerritory replaces the definition and its ZIP set atomically.
	// Returns repository.ErrConflict when a ZIP belongs to another territory.
	UpsertTerritory(ctx context.Context, def *TerritoryDefinition) error
	DeleteTerritory(ctx context.Context, jurisdiction string, territoryID string) error
}

// Sink is the append-only log of violations and slow-calculation records
// consumed by operational tooling.
type Sink interface {
	AppendViolations(ctx context.Context, calculationID string, jurisdiction string, violations Violations) error
	AppendPerformance(ctx context.Context, record *PerformanceRecord) error
}

// Repository is the full persistence surface.
type Repository interface {
	RateStore
	TerritoryStore
	Sink

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
