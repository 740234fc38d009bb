// Package territory resolves ZIP codes to territory factors and administers
// territory definitions.
package territory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/money"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// ErrNotConfigured is returned when no territory owns a ZIP code.
var ErrNotConfigured = fmt.Errorf("territory not configured: %w", repository.ErrNotFound)

// ErrInvalidDefinition is returned for a malformed territory definition.
var ErrInvalidDefinition = fmt.Errorf("invalid territory definition: %w", repository.ErrInvalidInput)

// Risk component weights of the composite factor.
var (
	WeightCrime       = money.MustParse("0.15")
	WeightWeather     = money.MustParse("0.10")
	WeightTraffic     = money.MustParse("0.12")
	WeightCatastrophe = money.MustParse("0.20")
)

// Composite factor range.
var (
	CompositeMin = money.MustParse("0.5")
	CompositeMax = money.MustParse("2.5")
)

// Manager resolves territory factors cache-first and keeps the cache
// consistent with every mutation.
type Manager struct {
	store domain.TerritoryStore
	cache *cache.Strategy
}

// NewManager creates a territory manager.
func NewManager(store domain.TerritoryStore, c *cache.Strategy) *Manager {
	return &Manager{store: store, cache: c}
}

// Factor returns the territory factor of a ZIP code.
func (m *Manager) Factor(ctx context.Context, jurisdiction, zip string) (*domain.TerritoryFactor, error) {
	key := cache.TerritoryKey(jurisdiction, zip)

	var cached domain.TerritoryFactor
	found, err := m.cache.GetJSON(ctx, cache.NamespaceTerritory, key, &cached)
	if err != nil {
		slog.Warn("territory cache read failed", "key", key, "error", err)
	}
	if found {
		return &cached, nil
	}

	def, err := m.store.GetTerritoryForZIP(ctx, jurisdiction, strings.TrimSpace(zip))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s zip %s: %w", jurisdiction, zip, ErrNotConfigured)
	}
	if err != nil {
		return nil, err
	}

	factor := resolve(def, strings.TrimSpace(zip))
	if err := m.cache.SetJSON(ctx, cache.NamespaceTerritory, key, factor); err != nil {
		slog.Warn("territory cache write failed", "key", key, "error", err)
	}
	return factor, nil
}

// Get returns one territory definition.
func (m *Manager) Get(ctx context.Context, jurisdiction, id string) (*domain.TerritoryDefinition, error) {
	return m.store.GetTerritory(ctx, jurisdiction, id)
}

// List returns every territory of a jurisdiction.
func (m *Manager) List(ctx context.Context, jurisdiction string) ([]*domain.TerritoryDefinition, error) {
	return m.store.ListTerritories(ctx, jurisdiction)
}

// Upsert validates and stores a definition, then invalidates every cached ZIP
// and result of the jurisdiction before returning.
func (m *Manager) Upsert(ctx context.Context, def *domain.TerritoryDefinition) error {
	if err := Validate(def); err != nil {
		return err
	}
	if err := m.store.UpsertTerritory(ctx, def); err != nil {
		return err
	}
	if err := m.invalidate(ctx, def.Jurisdiction); err != nil {
		return err
	}

	slog.Info("territory upserted",
		"jurisdiction", def.Jurisdiction,
		"territory_id", def.ID,
		"version", def.Version,
		"zip_count", len(def.ZIPCodes),
	)
	return nil
}

// Delete removes a territory and invalidates dependents.
func (m *Manager) Delete(ctx context.Context, jurisdiction, id string) error {
	if err := m.store.DeleteTerritory(ctx, jurisdiction, id); err != nil {
		return err
	}
	if err := m.invalidate(ctx, jurisdiction); err != nil {
		return err
	}

	slog.Info("territory deleted", "jurisdiction", jurisdiction, "territory_id", id)
	return nil
}

// Warm caches the factor of every ZIP in the jurisdiction.
func (m *Manager) Warm(ctx context.Context, jurisdiction string) (territories int, zips int, err error) {
	defs, err := m.store.ListTerritories(ctx, jurisdiction)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list territories: %w", err)
	}
	for _, def := range defs {
		for _, zip := range def.ZIPCodes {
			key := cache.TerritoryKey(def.Jurisdiction, zip)
			if err := m.cache.SetJSON(ctx, cache.NamespaceTerritory, key, resolve(def, zip)); err != nil {
				return territories, zips, fmt.Errorf("failed to cache territory %s: %w", key, err)
			}
			zips++
		}
		territories++
	}
	return territories, zips, nil
}

func (m *Manager) invalidate(ctx context.Context, jurisdiction string) error {
	pattern := cache.JurisdictionPattern(jurisdiction)
	if _, err := m.cache.InvalidatePattern(ctx, cache.NamespaceTerritory, pattern); err != nil {
		return fmt.Errorf("failed to invalidate cached territories: %w", err)
	}
	if _, err := m.cache.InvalidatePattern(ctx, cache.NamespaceResult, pattern); err != nil {
		return fmt.Errorf("failed to invalidate cached results: %w", err)
	}
	return nil
}

// Validate checks a definition before it reaches the store.
func Validate(def *domain.TerritoryDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: definition is required", ErrInvalidDefinition)
	}
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	if strings.TrimSpace(def.Jurisdiction) == "" {
		return fmt.Errorf("%w: jurisdiction is required", ErrInvalidDefinition)
	}
	if len(def.ZIPCodes) == 0 {
		return fmt.Errorf("%w: at least one zip code is required", ErrInvalidDefinition)
	}
	if !def.BaseFactor.IsPositive() {
		return fmt.Errorf("%w: base factor must be positive", ErrInvalidDefinition)
	}
	components := map[string]float64{
		"crime_rate":       def.Risk.CrimeRate,
		"weather_risk":     def.Risk.WeatherRisk,
		"traffic_density":  def.Risk.TrafficDensity,
		"catastrophe_risk": def.Risk.CatastropheRisk,
	}
	for name, v := range components {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0, 1], got %g", ErrInvalidDefinition, name, v)
		}
	}
	return nil
}

// Composite is base × Π(1 + component × weight), clamped to [0.5, 2.5].
func Composite(base decimal.Decimal, risk domain.RiskFactors) decimal.Decimal {
	f := base
	f = f.Mul(money.One.Add(money.FromFloat(risk.CrimeRate).Mul(WeightCrime)))
	f = f.Mul(money.One.Add(money.FromFloat(risk.WeatherRisk).Mul(WeightWeather)))
	f = f.Mul(money.One.Add(money.FromFloat(risk.TrafficDensity).Mul(WeightTraffic)))
	f = f.Mul(money.One.Add(money.FromFloat(risk.CatastropheRisk).Mul(WeightCatastrophe)))
	return money.RoundFactor(money.Clamp(f, CompositeMin, CompositeMax))
}

// WithSignals overlays quote-level crime and weather indices on the territory
// risk vector. Indices outside [0, 1] are ignored.
func WithSignals(risk domain.RiskFactors, signals *domain.ExternalSignals) domain.RiskFactors {
	if signals == nil {
		return risk
	}
	if v := signals.CrimeIndex; v != nil && *v >= 0 && *v <= 1 {
		risk.CrimeRate = *v
	}
	if v := signals.WeatherIndex; v != nil && *v >= 0 && *v <= 1 {
		risk.WeatherRisk = *v
	}
	return risk
}

// Conflict is a ZIP code claimed by more than one territory.
type Conflict struct {
	Jurisdiction string   `json:"jurisdiction"`
	ZIPCode      string   `json:"zipCode"`
	TerritoryIDs []string `json:"territoryIds"`
}

// DetectConflicts finds ZIP codes assigned to several definitions of the same
// jurisdiction, e.g. in a batch import. Results are sorted by jurisdiction and ZIP.
func DetectConflicts(defs []*domain.TerritoryDefinition) []Conflict {
	owners := make(map[[2]string][]string)
	for _, def := range defs {
		if def == nil {
			continue
		}
		j := strings.ToUpper(strings.TrimSpace(def.Jurisdiction))
		seen := make(map[string]bool)
		for _, zip := range def.ZIPCodes {
			zip = strings.TrimSpace(zip)
			if seen[zip] {
				continue
			}
			seen[zip] = true
			k := [2]string{j, zip}
			owners[k] = append(owners[k], def.ID)
		}
	}

	var conflicts []Conflict
	for k, ids := range owners {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		conflicts = append(conflicts, Conflict{Jurisdiction: k[0], ZIPCode: k[1], TerritoryIDs: ids})
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Jurisdiction != conflicts[j].Jurisdiction {
			return conflicts[i].Jurisdiction < conflicts[j].Jurisdiction
		}
		return conflicts[i].ZIPCode < conflicts[j].ZIPCode
	})
	return conflicts
}

func resolve(def *domain.TerritoryDefinition, zip string) *domain.TerritoryFactor {
	return &domain.TerritoryFactor{
		TerritoryID:  def.ID,
		Jurisdiction: def.Jurisdiction,
		ZIPCode:      zip,
		BaseFactor:   def.BaseFactor,
		Composite:    Composite(def.BaseFactor, def.Risk),
		Risk:         def.Risk,
		Version:      def.Version,
	}
}
