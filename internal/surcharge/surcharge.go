// Package surcharge computes the surcharges of a quote under the
// jurisdiction caps.
package surcharge

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
	"github.com/opensource-finance/kestrel/internal/money"
)

// ErrInvalidBase is returned for a non-positive premium.
var ErrInvalidBase = errors.New("surcharge base premium must be positive")

// High-risk score weights.
const (
	ViolationPoints = 2
	AccidentPoints  = 3
)

// RiskScore is the high-risk score of a driver's record.
func RiskScore(d domain.Driver) int {
	return ViolationPoints*d.Violations + AccidentPoints*d.Accidents
}

var (
	severityHighRate   = money.MustParse("0.30")
	severityMediumRate = money.MustParse("0.15")
)

// Result is the outcome of CalculateAll.
type Result struct {
	Surcharges []domain.Surcharge `json:"surcharges"`
	// PercentageTotal is the sum of rate-based amounts, the part subject to the cap.
	PercentageTotal decimal.Decimal `json:"percentageTotal"`
	FlatTotal       decimal.Decimal `json:"flatTotal"`
	Total           decimal.Decimal `json:"total"`
	// Scaled is set when rates were reduced to fit the jurisdiction maximum.
	Scaled bool `json:"scaled,omitempty"`
}

// CalculateAll returns every surcharge for the drivers and vehicle against base.
//
// When the percentage rates sum past the jurisdiction maximum, each is scaled
// down by the same proportion. Flat fees are never scaled.
func CalculateAll(drivers []domain.Driver, vehicle domain.Vehicle, rules *jurisdiction.Rules, base decimal.Decimal) (*Result, error) {
	if !base.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidBase, base)
	}

	var out []domain.Surcharge
	for _, d := range drivers {
		out = append(out, driverSurcharges(d, rules)...)
	}
	if s, ok := lapse(drivers, rules); ok {
		out = append(out, s)
	}
	out = append(out, vehicleSurcharges(vehicle, rules)...)

	sum := money.Zero
	for _, s := range out {
		if !s.IsFlat() {
			sum = sum.Add(s.Rate)
		}
	}
	scale := sum.GreaterThan(rules.MaxSurchargeRate)

	res := &Result{PercentageTotal: money.Zero, FlatTotal: money.Zero, Scaled: scale}
	for i := range out {
		s := &out[i]
		if s.IsFlat() {
			s.Amount = s.FlatAmount
			res.FlatTotal = res.FlatTotal.Add(s.Amount)
			continue
		}
		s.RequestedRate = s.Rate
		if scale {
			s.Rate = s.Rate.Mul(rules.MaxSurchargeRate).Div(sum).Truncate(6)
			s.Scaled = true
			// rounding down keeps the scaled total within the cap
			s.Amount = base.Mul(s.Rate).RoundDown(money.MinorUnits)
		} else {
			s.Amount = money.Percent(base, s.Rate)
		}
		res.PercentageTotal = res.PercentageTotal.Add(s.Amount)
	}

	res.Surcharges = out
	res.Total = res.PercentageTotal.Add(res.FlatTotal)
	return res, nil
}

func driverSurcharges(d domain.Driver, rules *jurisdiction.Rules) []domain.Surcharge {
	var out []domain.Surcharge

	if d.DUIs > 0 {
		severity := domain.SeverityHigh
		if d.DUIs > 1 {
			severity = domain.SeverityVeryHigh
		}
		out = append(out, domain.Surcharge{
			Category: domain.SurchargeDUI,
			Rate:     rules.DUIRate(d.DUIs),
			Severity: severity,
			DriverID: d.ID,
			Reason:   fmt.Sprintf("%d DUI conviction(s)", d.DUIs),
		})
	}
	if d.DUIs > 0 || d.SR22Required {
		out = append(out, domain.Surcharge{
			Category:   domain.SurchargeSR22,
			FlatAmount: rules.SR22Fee,
			Severity:   domain.SeverityMedium,
			DriverID:   d.ID,
			Reason:     "SR-22 financial responsibility filing",
		})
	}

	score := RiskScore(d)
	for _, band := range rules.HighRiskBands {
		if score >= band.MinScore {
			out = append(out, domain.Surcharge{
				Category: domain.SurchargeHighRisk,
				Rate:     band.Rate,
				Severity: band.Severity,
				DriverID: d.ID,
				Reason:   fmt.Sprintf("%s risk score %d", band.Label, score),
			})
			break
		}
	}

	for _, band := range rules.YoungDriverBands {
		if d.Age < band.Below {
			out = append(out, domain.Surcharge{
				Category: domain.SurchargeYoungDriver,
				Rate:     band.Rate,
				Severity: severityFor(band.Rate),
				DriverID: d.ID,
				Reason:   fmt.Sprintf("driver under %d", band.Below),
			})
			break
		}
	}

	for _, band := range rules.InexperiencedBands {
		if d.YearsLicensed == band.Years {
			out = append(out, domain.Surcharge{
				Category: domain.SurchargeInexperiencedDriver,
				Rate:     band.Rate,
				Severity: severityFor(band.Rate),
				DriverID: d.ID,
				Reason:   fmt.Sprintf("licensed %d year(s)", band.Years),
			})
			break
		}
	}

	return out
}

// lapse rates the longest coverage lapse on the policy.
func lapse(drivers []domain.Driver, rules *jurisdiction.Rules) (domain.Surcharge, bool) {
	longest, who := 0, ""
	for _, d := range drivers {
		if d.CoverageLapseDays > longest {
			longest, who = d.CoverageLapseDays, d.ID
		}
	}
	if longest == 0 {
		return domain.Surcharge{}, false
	}
	for _, band := range rules.LapseBands {
		if band.MaxDays == 0 || longest <= band.MaxDays {
			return domain.Surcharge{
				Category: domain.SurchargeCoverageLapse,
				Rate:     band.Rate,
				Severity: severityFor(band.Rate),
				DriverID: who,
				Reason:   fmt.Sprintf("%d day coverage lapse", longest),
			}, true
		}
	}
	return domain.Surcharge{}, false
}

func vehicleSurcharges(v domain.Vehicle, rules *jurisdiction.Rules) []domain.Surcharge {
	var out []domain.Surcharge
	add := func(cat domain.SurchargeCategory, rate decimal.Decimal, reason string) {
		if !rate.IsPositive() {
			return
		}
		out = append(out, domain.Surcharge{
			Category:   cat,
			Rate:       rate,
			Severity:   severityFor(rate),
			VehicleVIN: v.VIN,
			Reason:     reason,
		})
	}

	switch v.Class {
	case domain.VehicleSports:
		add(domain.SurchargeVehicleType, rules.Vehicle.Sports, "sports vehicle")
	case domain.VehicleLuxury:
		add(domain.SurchargeVehicleType, rules.Vehicle.Luxury, "luxury vehicle")
	}
	if v.Usage == domain.UsageCommercial {
		add(domain.SurchargeCommercialUse, rules.Vehicle.Commercial, "commercial use")
	}
	if v.Modified {
		add(domain.SurchargeModifiedVehicle, rules.Vehicle.Modified, "aftermarket modifications")
	}
	return out
}

func severityFor(rate decimal.Decimal) domain.SurchargeSeverity {
	switch {
	case rate.GreaterThanOrEqual(severityHighRate):
		return domain.SeverityHigh
	case rate.GreaterThanOrEqual(severityMediumRate):
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
