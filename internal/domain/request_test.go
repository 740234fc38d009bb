package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func keyRequest() RatingRequest {
	return RatingRequest{
		Jurisdiction:  "CA",
		Product:       ProductPersonalAuto,
		EffectiveDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ZIPCode:       "90001",
		Vehicle:       Vehicle{VIN: "1HGCM82633A004352", Year: 2022, Class: VehicleStandard, Value: decimal.RequireFromString("28000")},
		Drivers:       []Driver{{ID: "d1", Age: 40, YearsLicensed: 20}},
		Coverages: []CoverageSelection{
			{Type: CoverageLiability, Limit: decimal.RequireFromString("100000")},
			{Type: CoverageCollision, Limit: decimal.RequireFromString("50000"), Deductible: decimal.RequireFromString("500")},
		},
	}
}

func TestCacheKey(t *testing.T) {
	base := keyRequest().CacheKey()

	same := []struct {
		name   string
		mutate func(r *RatingRequest)
	}{
		{"TrailingZeros", func(r *RatingRequest) {
			r.Coverages[0].Limit = decimal.RequireFromString("100000.00")
			r.Coverages[1].Deductible = decimal.RequireFromString("500.0")
			r.Vehicle.Value = decimal.RequireFromString("28000.000")
		}},
		{"CoverageOrder", func(r *RatingRequest) {
			r.Coverages[0], r.Coverages[1] = r.Coverages[1], r.Coverages[0]
		}},
		{"JurisdictionCase", func(r *RatingRequest) {
			r.Jurisdiction = " ca "
		}},
		{"TimeOfDay", func(r *RatingRequest) {
			r.EffectiveDate = r.EffectiveDate.Add(15 * time.Hour)
		}},
	}
	for _, tt := range same {
		t.Run(tt.name, func(t *testing.T) {
			r := keyRequest()
			tt.mutate(&r)
			if got := r.CacheKey(); got != base {
				t.Errorf("expected the same key, got %s vs %s", got, base)
			}
		})
	}

	different := []struct {
		name   string
		mutate func(r *RatingRequest)
	}{
		{"SubCentLimit", func(r *RatingRequest) {
			r.Coverages[0].Limit = decimal.RequireFromString("100000.004")
		}},
		{"SubCentDeductible", func(r *RatingRequest) {
			r.Coverages[1].Deductible = decimal.RequireFromString("500.001")
		}},
		{"SubCentVehicleValue", func(r *RatingRequest) {
			r.Vehicle.Value = decimal.RequireFromString("27999.999")
		}},
		{"DriverAge", func(r *RatingRequest) {
			r.Drivers[0].Age = 41
		}},
	}
	for _, tt := range different {
		t.Run(tt.name, func(t *testing.T) {
			r := keyRequest()
			tt.mutate(&r)
			if got := r.CacheKey(); got == base {
				t.Errorf("expected a different key for %s", tt.name)
			}
		})
	}

	t.Run("DistinctSubCentValues", func(t *testing.T) {
		a, b := keyRequest(), keyRequest()
		a.Coverages[0].Limit = decimal.RequireFromString("100000.001")
		b.Coverages[0].Limit = decimal.RequireFromString("100000.004")
		if a.CacheKey() == b.CacheKey() {
			t.Error("limits that price differently must not share a key")
		}
	})

	t.Run("DoesNotMutate", func(t *testing.T) {
		r := keyRequest()
		r.Jurisdiction = "ca"
		r.Coverages[0].Limit = decimal.RequireFromString("100000.00")
		r.CacheKey()
		if r.Jurisdiction != "ca" || r.Coverages[0].Limit.String() != "100000" || r.Coverages[0].Limit.Exponent() != -2 {
			t.Errorf("request was modified: %q %s", r.Jurisdiction, r.Coverages[0].Limit)
		}
	})
}
