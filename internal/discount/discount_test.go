package discount

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func stackable(t domain.DiscountType, rate string, priority int) domain.Discount {
	return domain.Discount{Type: t, Rate: d(rate), Stackable: true, Priority: priority, Eligible: true}
}

func TestStackDiscounts(t *testing.T) {
	t.Run("SixTenPercentDiscountsCappedAtForty", func(t *testing.T) {
		types := []domain.DiscountType{
			domain.DiscountMultiPolicy, domain.DiscountSafeDriver, domain.DiscountLoyalty,
			domain.DiscountPaidInFull, domain.DiscountPaperless, domain.DiscountAutoPay,
		}
		var cands []domain.Discount
		for i, typ := range types {
			cands = append(cands, stackable(typ, "0.10", i+1))
		}

		res, err := StackDiscounts(d("1000"), cands, d("0.40"), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Total.Equal(d("400")) {
			t.Errorf("expected total 400.00, got %s", res.Total)
		}
		if !res.Capped {
			t.Error("expected result to be capped")
		}
		if len(res.Applied) != 5 {
			t.Fatalf("expected 5 applied discounts, got %d", len(res.Applied))
		}

		wantAmounts := []string{"100", "90", "81", "72.9", "56.1"}
		for i, want := range wantAmounts {
			if !res.Applied[i].Amount.Equal(d(want)) {
				t.Errorf("discount %d amount = %s, want %s", i, res.Applied[i].Amount, want)
			}
		}
		if !res.Applied[4].Partial {
			t.Error("expected the capping discount to be partial")
		}
	})

	t.Run("PriorityOrder", func(t *testing.T) {
		cands := []domain.Discount{
			stackable(domain.DiscountPaperless, "0.03", 80),
			stackable(domain.DiscountMultiPolicy, "0.10", 10),
		}
		res, err := StackDiscounts(d("500"), cands, decimal.Zero, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Applied[0].Type != domain.DiscountMultiPolicy {
			t.Errorf("expected multi_policy first, got %s", res.Applied[0].Type)
		}
		// 50.00 off 500, then 3% of the remaining 450
		if !res.Applied[1].Amount.Equal(d("13.50")) {
			t.Errorf("expected 13.50, got %s", res.Applied[1].Amount)
		}
		if !res.CapRate.Equal(DefaultMaxRate) {
			t.Errorf("expected default cap, got %s", res.CapRate)
		}
	})

	t.Run("JurisdictionCapStricter", func(t *testing.T) {
		cands := []domain.Discount{
			stackable(domain.DiscountSafeDriver, "0.20", 1),
			stackable(domain.DiscountLoyalty, "0.20", 2),
		}
		ny := d("0.35")
		res, err := StackDiscounts(d("1000"), cands, d("0.40"), &ny)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Total.Equal(d("350")) {
			t.Errorf("expected NY cap of 350, got %s", res.Total)
		}
	})

	t.Run("BestSingleNonStackableWins", func(t *testing.T) {
		cands := []domain.Discount{
			stackable(domain.DiscountPaperless, "0.03", 80),
			stackable(domain.DiscountAutoPay, "0.02", 90),
			{Type: domain.DiscountMilitary, Rate: d("0.12"), Priority: 40, Eligible: true},
		}
		res, err := StackDiscounts(d("1000"), cands, d("0.40"), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.SingleNonStackable || len(res.Applied) != 1 || res.Applied[0].Type != domain.DiscountMilitary {
			t.Fatalf("expected military alone, got %+v", res.Applied)
		}
		if !res.Total.Equal(d("120")) {
			t.Errorf("expected 120, got %s", res.Total)
		}
	})

	t.Run("StackBeatsNonStackable", func(t *testing.T) {
		cands := []domain.Discount{
			stackable(domain.DiscountSafeDriver, "0.15", 20),
			{Type: domain.DiscountMilitary, Rate: d("0.12"), Priority: 40, Eligible: true},
		}
		res, _ := StackDiscounts(d("1000"), cands, d("0.40"), nil)
		if res.SingleNonStackable || res.Applied[0].Type != domain.DiscountSafeDriver {
			t.Errorf("expected the stack to win, got %+v", res.Applied)
		}
	})

	t.Run("FixedAmount", func(t *testing.T) {
		cands := []domain.Discount{
			{Type: domain.DiscountLoyalty, FixedAmount: d("25"), Stackable: true, Priority: 1, Eligible: true},
		}
		res, _ := StackDiscounts(d("300"), cands, d("0.40"), nil)
		if !res.Total.Equal(d("25")) {
			t.Errorf("expected 25, got %s", res.Total)
		}
	})

	t.Run("IneligibleSkipped", func(t *testing.T) {
		c := stackable(domain.DiscountSenior, "0.05", 1)
		c.Eligible = false
		res, _ := StackDiscounts(d("300"), []domain.Discount{c}, d("0.40"), nil)
		if len(res.Applied) != 0 || !res.Total.IsZero() {
			t.Errorf("expected nothing applied, got %+v", res.Applied)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if _, err := StackDiscounts(decimal.Zero, nil, d("0.4"), nil); !errors.Is(err, ErrInvalidBase) {
			t.Errorf("expected ErrInvalidBase, got %v", err)
		}
		if _, err := StackDiscounts(d("-5"), nil, d("0.4"), nil); !errors.Is(err, ErrInvalidBase) {
			t.Errorf("expected ErrInvalidBase, got %v", err)
		}
		bad := []domain.Discount{stackable(domain.DiscountSenior, "1.5", 1)}
		if _, err := StackDiscounts(d("100"), bad, d("0.4"), nil); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("expected ErrInvalidRate, got %v", err)
		}
		neg := []domain.Discount{stackable(domain.DiscountSenior, "-0.1", 1)}
		if _, err := StackDiscounts(d("100"), neg, d("0.4"), nil); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("expected ErrInvalidRate, got %v", err)
		}
	})
}

func TestCandidates(t *testing.T) {
	rules, _ := jurisdiction.Lookup("CA")

	req := &domain.RatingRequest{
		Drivers: []domain.Driver{
			{ID: "d1", Age: 58, YearsLicensed: 40},
			{ID: "d2", Age: 19, YearsLicensed: 3, GoodStudent: true},
		},
		Customer: &domain.Customer{PolicyCount: 2, TenureYears: 1},
		Billing:  domain.BillingOptions{Paperless: true},
	}

	cands := Candidates(req, rules)
	if len(cands) != len(rules.Discounts) {
		t.Fatalf("expected one candidate per catalogue entry, got %d", len(cands))
	}

	eligible := make(map[domain.DiscountType]domain.Discount)
	for i, c := range cands {
		if i > 0 && cands[i-1].Priority > c.Priority {
			t.Error("candidates must be in priority order")
		}
		if c.Eligible {
			eligible[c.Type] = c
		}
	}

	for _, want := range []domain.DiscountType{
		domain.DiscountMultiPolicy, domain.DiscountSafeDriver, domain.DiscountGoodStudent,
		domain.DiscountSenior, domain.DiscountPaperless,
	} {
		if _, ok := eligible[want]; !ok {
			t.Errorf("expected %s to be eligible", want)
		}
	}
	for _, not := range []domain.DiscountType{domain.DiscountLoyalty, domain.DiscountMilitary, domain.DiscountAutoPay} {
		if _, ok := eligible[not]; ok {
			t.Errorf("expected %s to be ineligible", not)
		}
	}

	if !eligible[domain.DiscountSafeDriver].Rate.Equal(d("0.20")) {
		t.Errorf("expected California good driver rate 0.20, got %s", eligible[domain.DiscountSafeDriver].Rate)
	}

	req.Drivers[1].Accidents = 1
	for _, c := range Candidates(req, rules) {
		if c.Type == domain.DiscountSafeDriver && c.Eligible {
			t.Error("an accident on any driver removes safe driver")
		}
	}
}
