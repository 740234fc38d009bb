// Package money holds the decimal helpers used for every premium amount.
// Amounts are never carried as floats.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places of the currency minor unit.
const MinorUnits = 2

var (
	// Zero is the zero amount.
	Zero = decimal.Zero
	// One is the multiplicative identity for factors.
	One = decimal.NewFromInt(1)

	thousand = decimal.NewFromInt(1000)
)

// Round rounds half away from zero to the minor unit. For premiums,
// which are never negative, that is half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnits)
}

// RoundFactor rounds a multiplier to four places for presentation and storage.
func RoundFactor(d decimal.Decimal) decimal.Decimal {
	return d.Round(4)
}

// PerThousand prices a limit against a rate quoted per 1,000 of coverage.
func PerThousand(limit, rate decimal.Decimal) decimal.Decimal {
	return Round(limit.Mul(rate).Div(thousand))
}

// Percent applies a rate to an amount and rounds to the minor unit.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate))
}

// Clamp bounds d to [lo, hi].
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Sum adds the amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Ratio returns num/den, or zero when den is zero.
func Ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

// FromFloat converts a computed float multiplier, rounded to eight places.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(8)
}

// MustParse parses a literal amount. Intended for package-level tables only.
func MustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("money: invalid literal %q: %v", s, err))
	}
	return d
}

// Format renders an amount with exactly two places, e.g. "1287.50".
func Format(d decimal.Decimal) string {
	return d.StringFixed(MinorUnits)
}
