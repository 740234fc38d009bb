// Package discount derives candidate discounts and stacks them under a cap.
package discount

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
	"github.com/opensource-finance/kestrel/internal/money"
)

var (
	// ErrInvalidBase is returned for a non-positive premium.
	ErrInvalidBase = errors.New("discount base premium must be positive")
	// ErrInvalidRate is returned for a rate outside [0, 1] or a negative amount.
	ErrInvalidRate = errors.New("discount rate must be within [0, 1]")
)

// DefaultMaxRate caps the total discount when no cap is given.
var DefaultMaxRate = money.MustParse("0.40")

// Eligibility thresholds.
const (
	MultiPolicyMinimum = 2
	LoyaltyMinYears    = 3
	SeniorMinAge       = 55
	StudentMaxAge      = 25
)

// Result is the outcome of stacking.
type Result struct {
	Applied []domain.AppliedDiscount `json:"applied"`
	Total   decimal.Decimal          `json:"total"`
	CapRate decimal.Decimal          `json:"capRate"`
	Capped  bool                     `json:"capped"`
	// SingleNonStackable is set when one non-stackable discount beat the stack.
	SingleNonStackable bool `json:"singleNonStackable,omitempty"`
}

// Candidates lists every catalogue discount of the jurisdiction with its
// eligibility for the request, in priority order.
func Candidates(req *domain.RatingRequest, rules *jurisdiction.Rules) []domain.Discount {
	eligible := map[domain.DiscountType]bool{
		domain.DiscountPaidInFull: req.Billing.PaidInFull,
		domain.DiscountPaperless:  req.Billing.Paperless,
		domain.DiscountAutoPay:    req.Billing.AutoPay,
	}

	if c := req.Customer; c != nil {
		eligible[domain.DiscountMultiPolicy] = c.PolicyCount >= MultiPolicyMinimum
		eligible[domain.DiscountLoyalty] = c.TenureYears >= LoyaltyMinYears
	}

	if len(req.Drivers) > 0 {
		clean := true
		for _, d := range req.Drivers {
			if d.Violations > 0 || d.Accidents > 0 || d.DUIs > 0 {
				clean = false
			}
			if d.GoodStudent && d.Age < StudentMaxAge {
				eligible[domain.DiscountGoodStudent] = true
			}
			if d.Military {
				eligible[domain.DiscountMilitary] = true
			}
		}
		eligible[domain.DiscountSafeDriver] = clean
		eligible[domain.DiscountSenior] = req.Drivers[0].Age >= SeniorMinAge
	}

	out := make([]domain.Discount, 0, len(rules.Discounts))
	for t, rule := range rules.Discounts {
		out = append(out, domain.Discount{
			Type:        t,
			Rate:        rule.Rate,
			Stackable:   rule.Stackable,
			Priority:    rule.Priority,
			Eligible:    eligible[t],
			Description: rule.Description,
		})
	}
	sortByPriority(out)
	return out
}

// StackDiscounts applies eligible candidates to base.
//
// Stackable discounts apply in ascending priority, each against the premium
// remaining after the previous ones. The total never exceeds cap × base: the
// discount that crosses the cap is applied partially and stacking stops. The
// cap is maxTotalRate (DefaultMaxRate when zero), or jurisdictionCap when that
// is stricter. If the best single non-stackable discount is worth more than
// the whole stack, it replaces the stack.
func StackDiscounts(base decimal.Decimal, candidates []domain.Discount, maxTotalRate decimal.Decimal, jurisdictionCap *decimal.Decimal) (*Result, error) {
	if !base.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidBase, base)
	}
	for _, c := range candidates {
		if c.Rate.IsNegative() || c.Rate.GreaterThan(money.One) {
			return nil, fmt.Errorf("%w: %s has rate %s", ErrInvalidRate, c.Type, c.Rate)
		}
		if c.FixedAmount.IsNegative() {
			return nil, fmt.Errorf("%w: %s has negative amount %s", ErrInvalidRate, c.Type, c.FixedAmount)
		}
	}

	capRate := maxTotalRate
	if !capRate.IsPositive() {
		capRate = DefaultMaxRate
	}
	if jurisdictionCap != nil && jurisdictionCap.LessThan(capRate) {
		capRate = *jurisdictionCap
	}
	capAmount := money.Percent(base, capRate)

	var stackable, single []domain.Discount
	for _, c := range candidates {
		if !c.Eligible {
			continue
		}
		if c.Stackable {
			stackable = append(stackable, c)
		} else {
			single = append(single, c)
		}
	}
	sortByPriority(stackable)

	res := &Result{CapRate: capRate, Total: money.Zero}
	remaining := base
	for _, d := range stackable {
		amount := amountOf(d, remaining)
		if res.Total.Add(amount).GreaterThan(capAmount) {
			partial := capAmount.Sub(res.Total)
			if partial.IsPositive() {
				res.Applied = append(res.Applied, domain.AppliedDiscount{Type: d.Type, Rate: d.Rate, Amount: partial, Partial: true})
				res.Total = capAmount
			}
			res.Capped = true
			break
		}
		res.Applied = append(res.Applied, domain.AppliedDiscount{Type: d.Type, Rate: d.Rate, Amount: amount})
		res.Total = res.Total.Add(amount)
		remaining = remaining.Sub(amount)
	}

	if best, ok := bestSingle(single, base); ok {
		full := amountOf(best, base)
		if full.GreaterThan(res.Total) {
			applied := domain.AppliedDiscount{Type: best.Type, Rate: best.Rate, Amount: full}
			capped := false
			if full.GreaterThan(capAmount) {
				applied.Amount = capAmount
				applied.Partial = true
				capped = true
			}
			res = &Result{
				Applied:            []domain.AppliedDiscount{applied},
				Total:              applied.Amount,
				CapRate:            capRate,
				Capped:             capped,
				SingleNonStackable: true,
			}
		}
	}

	return res, nil
}

func amountOf(d domain.Discount, against decimal.Decimal) decimal.Decimal {
	if d.IsFixed() {
		return money.Min(d.FixedAmount, against)
	}
	return money.Percent(against, d.Rate)
}

func bestSingle(ds []domain.Discount, base decimal.Decimal) (domain.Discount, bool) {
	var (
		best  domain.Discount
		value decimal.Decimal
		found bool
	)
	for _, d := range ds {
		v := amountOf(d, base)
		if !found || v.GreaterThan(value) {
			best, value, found = d, v, true
		}
	}
	return best, found
}

func sortByPriority(ds []domain.Discount) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority < ds[j].Priority
		}
		return ds[i].Type < ds[j].Type
	})
}
