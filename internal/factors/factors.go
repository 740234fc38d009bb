// Package factors computes the multiplicative rating factors.
//
// Calculators are pure. An input outside the modelled domain is an error
// wrapping ErrOutOfDomain; it is never clamped into range. Output clamping
// to the jurisdiction bounds happens once, in Bound.
package factors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
	"github.com/opensource-finance/kestrel/internal/money"
)

// ErrOutOfDomain is returned for inputs a calculator has no rating for.
var ErrOutOfDomain = errors.New("input out of rating domain")

var dec = money.MustParse

// Factor sources.
const (
	SourceDriver      = "driver"
	SourceVehicle     = "vehicle"
	SourceTerritory   = "territory"
	SourceSignals     = "external_signals"
	SourceStatistical = "statistical"
)

func outOfDomain(field string, value any, reason string) error {
	return fmt.Errorf("%s=%v: %s: %w", field, value, reason, ErrOutOfDomain)
}

func newFactor(name, source string, value decimal.Decimal) domain.RatingFactor {
	return domain.RatingFactor{Name: name, Source: source, Value: value}
}

// Bound clamps a factor into the jurisdiction range and records the range.
// Capped is set when the value moved.
func Bound(f domain.RatingFactor, rules *jurisdiction.Rules) domain.RatingFactor {
	b := rules.BoundsFor(f.Name)
	f.Min, f.Max = b.Min, b.Max
	clamped := money.Clamp(f.Value, b.Min, b.Max)
	if !clamped.Equal(f.Value) {
		f.Value = clamped
		f.Capped = true
	}
	return f
}

// BoundAll bounds every factor and returns them in canonical order.
func BoundAll(fs []domain.RatingFactor, rules *jurisdiction.Rules) []domain.RatingFactor {
	out := make([]domain.RatingFactor, 0, len(fs))
	for _, f := range fs {
		out = append(out, Bound(f, rules))
	}
	return domain.SortFactors(out)
}
