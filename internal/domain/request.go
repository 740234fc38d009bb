package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProductType identifies the insurance product being rated.
type ProductType string

const (
	ProductPersonalAuto   ProductType = "personal_auto"
	ProductCommercialAuto ProductType = "commercial_auto"
)

// CoverageType identifies a coverage line on the quote.
type CoverageType string

const (
	CoverageLiability         CoverageType = "liability"
	CoverageCollision         CoverageType = "collision"
	CoverageComprehensive     CoverageType = "comprehensive"
	CoverageUninsuredMotorist CoverageType = "uninsured_motorist"
	CoveragePIP               CoverageType = "personal_injury_protection"
	CoverageMedicalPayments   CoverageType = "medical_payments"
)

// VehicleClass is the rating classification of a vehicle.
type VehicleClass string

const (
	VehicleStandard VehicleClass = "standard"
	VehicleSports   VehicleClass = "sports"
	VehicleLuxury   VehicleClass = "luxury"
	VehicleTruck    VehicleClass = "truck"
)

// VehicleUsage describes how a vehicle is primarily driven.
type VehicleUsage string

const (
	UsagePersonal   VehicleUsage = "personal"
	UsageCommute    VehicleUsage = "commute"
	UsageCommercial VehicleUsage = "commercial"
)

// CoverageSelection is a single coverage line requested on a quote.
type CoverageSelection struct {
	Type       CoverageType    `json:"type"`
	Limit      decimal.Decimal `json:"limit"`
	Deductible decimal.Decimal `json:"deductible"`
}

// Vehicle is the insured vehicle.
type Vehicle struct {
	VIN            string          `json:"vin"`
	Year           int             `json:"year"`
	Make           string          `json:"make"`
	Model          string          `json:"model"`
	Class          VehicleClass    `json:"class"`
	Usage          VehicleUsage    `json:"usage"`
	AnnualMileage  int             `json:"annualMileage"`
	Value          decimal.Decimal `json:"value"`
	SafetyFeatures []string        `json:"safetyFeatures,omitempty"`
	Modified       bool            `json:"modified"`
}

// AgeAt returns the vehicle age in model years at the given date.
// Next-model-year vehicles have age -1.
func (v Vehicle) AgeAt(at time.Time) int {
	return at.Year() - v.Year
}

// Driver is a listed driver. Records cover the last three years.
type Driver struct {
	ID                string `json:"id"`
	Age               int    `json:"age"`
	YearsLicensed     int    `json:"yearsLicensed"`
	Violations        int    `json:"violations"`
	Accidents         int    `json:"accidents"`
	DUIs              int    `json:"duis"`
	SR22Required      bool   `json:"sr22Required"`
	CoverageLapseDays int    `json:"coverageLapseDays"`
	GoodStudent       bool   `json:"goodStudent"`
	Military          bool   `json:"military"`
	DefensiveDriving  bool   `json:"defensiveDriving"`
}

// Customer carries the optional relationship history of the applicant.
type Customer struct {
	ID          string `json:"id"`
	PolicyCount int    `json:"policyCount"`
	TenureYears int    `json:"tenureYears"`
	PriorClaims int    `json:"priorClaims"`
}

// ExternalSignals are optional third-party signals about the risk.
type ExternalSignals struct {
	CreditScore  *int     `json:"creditScore,omitempty"`
	WeatherIndex *float64 `json:"weatherIndex,omitempty"`
	CrimeIndex   *float64 `json:"crimeIndex,omitempty"`
}

// BillingOptions are the payment choices that qualify for discounts.
type BillingOptions struct {
	PaidInFull bool `json:"paidInFull"`
	Paperless  bool `json:"paperless"`
	AutoPay    bool `json:"autoPay"`
}

// RatingRequest is a complete quote to be priced.
// Treat it as immutable once built: the orchestrator works on a Clone.
type RatingRequest struct {
	Jurisdiction  string              `json:"jurisdiction"`
	Product       ProductType         `json:"product"`
	EffectiveDate time.Time           `json:"effectiveDate"`
	ZIPCode       string              `json:"zipCode"`
	Vehicle       Vehicle             `json:"vehicle"`
	Drivers       []Driver            `json:"drivers"`
	Coverages     []CoverageSelection `json:"coverages"`
	Customer      *Customer           `json:"customer,omitempty"`
	Signals       *ExternalSignals    `json:"signals,omitempty"`
	Billing       BillingOptions      `json:"billing"`
}

// Clone returns a deep copy so callers can't mutate a request mid-calculation.
func (r RatingRequest) Clone() RatingRequest {
	out := r
	out.Drivers = append([]Driver(nil), r.Drivers...)
	out.Coverages = append([]CoverageSelection(nil), r.Coverages...)
	out.Vehicle.SafetyFeatures = append([]string(nil), r.Vehicle.SafetyFeatures...)
	if r.Customer != nil {
		c := *r.Customer
		out.Customer = &c
	}
	if r.Signals != nil {
		s := *r.Signals
		if s.CreditScore != nil {
			v := *s.CreditScore
			s.CreditScore = &v
		}
		if s.WeatherIndex != nil {
			v := *s.WeatherIndex
			s.WeatherIndex = &v
		}
		if s.CrimeIndex != nil {
			v := *s.CrimeIndex
			s.CrimeIndex = &v
		}
		out.Signals = &s
	}
	return out
}

// PrimaryDriver returns the first listed driver.
func (r RatingRequest) PrimaryDriver() (Driver, bool) {
	if len(r.Drivers) == 0 {
		return Driver{}, false
	}
	return r.Drivers[0], true
}

// Coverage returns the selection for a coverage type, if present.
func (r RatingRequest) Coverage(t CoverageType) (CoverageSelection, bool) {
	for _, c := range r.Coverages {
		if c.Type == t {
			return c, true
		}
	}
	return CoverageSelection{}, false
}

// HasCoverage reports whether the coverage type was selected.
func (r RatingRequest) HasCoverage(t CoverageType) bool {
	_, ok := r.Coverage(t)
	return ok
}

// CacheKey hashes the order-normalized request.
// Coverages and safety features are sorted; driver order is significant.
func (r RatingRequest) CacheKey() string {
	n := r.Clone()
	n.Jurisdiction = strings.ToUpper(strings.TrimSpace(n.Jurisdiction))
	n.ZIPCode = strings.TrimSpace(n.ZIPCode)
	n.EffectiveDate = time.Date(n.EffectiveDate.Year(), n.EffectiveDate.Month(), n.EffectiveDate.Day(), 0, 0, 0, 0, time.UTC)
	sort.SliceStable(n.Coverages, func(i, j int) bool {
		return n.Coverages[i].Type < n.Coverages[j].Type
	})
	for i := range n.Coverages {
		// 100000 and 100000.00 must hash the same.
		n.Coverages[i].Limit = canonicalDecimal(n.Coverages[i].Limit)
		n.Coverages[i].Deductible = canonicalDecimal(n.Coverages[i].Deductible)
	}
	n.Vehicle.Value = canonicalDecimal(n.Vehicle.Value)
	sort.Strings(n.Vehicle.SafetyFeatures)

	payload, _ := json.Marshal(n)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// canonicalDecimal drops trailing zeros without rounding, so only equal values
// share a representation.
func canonicalDecimal(d decimal.Decimal) decimal.Decimal {
	return decimal.RequireFromString(d.String())
}
