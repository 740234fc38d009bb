package territory

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

type countingStore struct {
	domain.TerritoryStore
	zipReads atomic.Int32
}

func (s *countingStore) GetTerritoryForZIP(ctx context.Context, jurisdiction, zip string) (*domain.TerritoryDefinition, error) {
	s.zipReads.Add(1)
	return s.TerritoryStore.GetTerritoryForZIP(ctx, jurisdiction, zip)
}

func newTestManager(t *testing.T) (*Manager, *countingStore) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "territories.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store := &countingStore{TerritoryStore: repo}
	return NewManager(store, cache.NewStrategy(cache.NewLRUCache(1000), domain.CacheConfig{})), store
}

func losAngeles() *domain.TerritoryDefinition {
	return &domain.TerritoryDefinition{
		ID:           "LA-01",
		Jurisdiction: "CA",
		ZIPCodes:     []string{"90001", "90002"},
		BaseFactor:   decimal.RequireFromString("1.00"),
		Risk: domain.RiskFactors{
			CrimeRate:       0.5,
			WeatherRisk:     0.2,
			TrafficDensity:  0.4,
			CatastropheRisk: 0.1,
		},
		Description: "South Los Angeles",
	}
}

func TestComposite(t *testing.T) {
	tests := []struct {
		name string
		base string
		risk domain.RiskFactors
		want string
	}{
		{"no risk", "1.2", domain.RiskFactors{}, "1.2"},
		{"weighted", "1.0", domain.RiskFactors{CrimeRate: 0.5, WeatherRisk: 0.2, TrafficDensity: 0.4, CatastropheRisk: 0.1}, "1.1721"},
		{"clamped high", "2.3", domain.RiskFactors{CrimeRate: 1, WeatherRisk: 1, TrafficDensity: 1, CatastropheRisk: 1}, "2.5"},
		{"clamped low", "0.4", domain.RiskFactors{}, "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Composite(decimal.RequireFromString(tt.base), tt.risk)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Composite = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWithSignals(t *testing.T) {
	crime, weather, bad := 0.9, 0.3, 1.5
	risk := domain.RiskFactors{CrimeRate: 0.1, WeatherRisk: 0.1, TrafficDensity: 0.5}

	got := WithSignals(risk, &domain.ExternalSignals{CrimeIndex: &crime, WeatherIndex: &weather})
	if got.CrimeRate != 0.9 || got.WeatherRisk != 0.3 || got.TrafficDensity != 0.5 {
		t.Errorf("unexpected overlay %+v", got)
	}

	got = WithSignals(risk, &domain.ExternalSignals{CrimeIndex: &bad})
	if got.CrimeRate != 0.1 {
		t.Errorf("out-of-range index should be ignored, got %v", got.CrimeRate)
	}

	if WithSignals(risk, nil) != risk {
		t.Error("nil signals should leave the vector unchanged")
	}
}

func TestDetectConflicts(t *testing.T) {
	defs := []*domain.TerritoryDefinition{
		{ID: "A", Jurisdiction: "ca", ZIPCodes: []string{"90001", "90002", "90002"}},
		{ID: "B", Jurisdiction: "CA", ZIPCodes: []string{"90002", "90003"}},
		{ID: "C", Jurisdiction: "TX", ZIPCodes: []string{"90003"}},
		{ID: "D", Jurisdiction: "CA", ZIPCodes: []string{" 90003 "}},
	}

	conflicts := DetectConflicts(defs)
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %d: %+v", len(conflicts), conflicts)
	}
	if conflicts[0].ZIPCode != "90002" || len(conflicts[0].TerritoryIDs) != 2 {
		t.Errorf("unexpected first conflict %+v", conflicts[0])
	}
	if conflicts[1].ZIPCode != "90003" || conflicts[1].TerritoryIDs[0] != "B" || conflicts[1].TerritoryIDs[1] != "D" {
		t.Errorf("unexpected second conflict %+v", conflicts[1])
	}

	if got := DetectConflicts(defs[:1]); len(got) != 0 {
		t.Errorf("duplicates within one definition are not conflicts, got %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *domain.TerritoryDefinition)
	}{
		{"missing id", func(d *domain.TerritoryDefinition) { d.ID = "" }},
		{"missing jurisdiction", func(d *domain.TerritoryDefinition) { d.Jurisdiction = " " }},
		{"no zips", func(d *domain.TerritoryDefinition) { d.ZIPCodes = nil }},
		{"zero base", func(d *domain.TerritoryDefinition) { d.BaseFactor = decimal.Zero }},
		{"risk above one", func(d *domain.TerritoryDefinition) { d.Risk.TrafficDensity = 1.2 }},
		{"negative risk", func(d *domain.TerritoryDefinition) { d.Risk.CrimeRate = -0.1 }},
	}

	if err := Validate(losAngeles()); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := losAngeles()
			tt.mutate(def)
			err := Validate(def)
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("expected ErrInvalidDefinition, got %v", err)
			}
			if !errors.Is(err, repository.ErrInvalidInput) {
				t.Errorf("expected error to wrap ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	if err := m.Upsert(ctx, losAngeles()); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	t.Run("FactorCacheFirst", func(t *testing.T) {
		for range 3 {
			f, err := m.Factor(ctx, "CA", "90001")
			if err != nil {
				t.Fatalf("factor failed: %v", err)
			}
			if f.TerritoryID != "LA-01" || f.Version != 1 {
				t.Errorf("unexpected factor %+v", f)
			}
			if !f.Composite.Equal(decimal.RequireFromString("1.1721")) {
				t.Errorf("expected composite 1.1721, got %s", f.Composite)
			}
		}
		if n := store.zipReads.Load(); n != 1 {
			t.Errorf("expected 1 store read, got %d", n)
		}
	})

	t.Run("UnknownZIP", func(t *testing.T) {
		_, err := m.Factor(ctx, "CA", "99999")
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured, got %v", err)
		}
	})

	t.Run("UpsertInvalidatesZIPs", func(t *testing.T) {
		def := losAngeles()
		def.BaseFactor = decimal.RequireFromString("1.30")
		if err := m.Upsert(ctx, def); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		f, err := m.Factor(ctx, "CA", "90002")
		if err != nil {
			t.Fatalf("factor failed: %v", err)
		}
		if f.Version != 2 || !f.BaseFactor.Equal(decimal.RequireFromString("1.3")) {
			t.Errorf("expected refreshed factor at version 2, got %+v", f)
		}

		f, _ = m.Factor(ctx, "CA", "90001")
		if f.Version != 2 {
			t.Errorf("expected every cached ZIP to be invalidated, got version %d", f.Version)
		}
	})

	t.Run("ConflictRejected", func(t *testing.T) {
		err := m.Upsert(ctx, &domain.TerritoryDefinition{
			ID:           "LA-02",
			Jurisdiction: "CA",
			ZIPCodes:     []string{"90002", "90010"},
			BaseFactor:   decimal.RequireFromString("1.1"),
		})
		var conflict *repository.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected ConflictError, got %v", err)
		}
		if conflict.ZIPOwners["90002"] != "LA-01" {
			t.Errorf("expected 90002 owned by LA-01, got %+v", conflict.ZIPOwners)
		}
	})

	t.Run("ListAndGet", func(t *testing.T) {
		defs, err := m.List(ctx, "CA")
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(defs) != 1 {
			t.Fatalf("expected 1 territory, got %d", len(defs))
		}

		def, err := m.Get(ctx, "CA", "LA-01")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if len(def.ZIPCodes) != 2 {
			t.Errorf("expected 2 zips, got %v", def.ZIPCodes)
		}
	})

	t.Run("Warm", func(t *testing.T) {
		territories, zips, err := m.Warm(ctx, "CA")
		if err != nil {
			t.Fatalf("warm failed: %v", err)
		}
		if territories != 1 || zips != 2 {
			t.Errorf("expected 1 territory and 2 zips, got %d/%d", territories, zips)
		}
	})

	t.Run("DeleteInvalidates", func(t *testing.T) {
		if err := m.Delete(ctx, "CA", "LA-01"); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := m.Factor(ctx, "CA", "90001"); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured after delete, got %v", err)
		}
		if err := m.Delete(ctx, "CA", "LA-01"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound for second delete, got %v", err)
		}
	})
}
