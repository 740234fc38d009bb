//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running Kestrel
// server.
//
// The tests seed their own rates, minimum premiums and territories through
// the admin API, so they only need an empty server:
//
//	go run ./cmd/kestrel &
//	go test -tags=integration -v ./tests/integration/...
//
// KESTREL_TEST_URL overrides the default http://localhost:8080.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// PremiumResponse is the subset of POST /v1/premiums the tests read.
type PremiumResponse struct {
	CalculationID   string          `json:"calculationId"`
	Jurisdiction    string          `json:"jurisdiction"`
	BasePremium     decimal.Decimal `json:"basePremium"`
	FactoredPremium decimal.Decimal `json:"factoredPremium"`
	TotalDiscount   decimal.Decimal `json:"totalDiscount"`
	TotalSurcharge  decimal.Decimal `json:"totalSurcharge"`
	MinimumPremium  decimal.Decimal `json:"minimumPremium"`
	MinimumApplied  bool            `json:"minimumApplied"`
	FinalPremium    decimal.Decimal `json:"finalPremium"`
	RiskTier        string          `json:"riskTier"`
	Surcharges      []struct {
		Category string          `json:"category"`
		Amount   decimal.Decimal `json:"amount"`
	} `json:"surcharges"`
	Metadata struct {
		TraceID       string  `json:"traceId"`
		LatencyMs     float64 `json:"latencyMs"`
		RateVersion   string  `json:"rateVersion"`
		TerritoryID   string  `json:"territoryId"`
		EngineVersion string  `json:"engineVersion"`
		CacheHit      bool    `json:"cacheHit"`
	} `json:"metadata"`
}

// ErrorResponse is the body of every rejected request.
type ErrorResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	Remediation string `json:"remediation"`
	Violations  []struct {
		RuleID string `json:"ruleId"`
	} `json:"violations"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func call(t *testing.T, config TestConfig, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func unmarshal(t *testing.T, body []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
}

func premium(t *testing.T, config TestConfig, quote map[string]any) PremiumResponse {
	t.Helper()
	status, body := call(t, config, http.MethodPost, "/v1/premiums", quote)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}
	var result PremiumResponse
	unmarshal(t, body, &result)
	return result
}

func rejected(t *testing.T, config TestConfig, quote map[string]any, wantStatus int) ErrorResponse {
	t.Helper()
	status, body := call(t, config, http.MethodPost, "/v1/premiums", quote)
	if status != wantStatus {
		t.Fatalf("Expected status %d, got %d: %s", wantStatus, status, string(body))
	}
	var result ErrorResponse
	unmarshal(t, body, &result)
	return result
}

var seedOnce sync.Map

// seed publishes rates, a minimum premium and a territory owning 90001-90002
// (prefixed per jurisdiction) once per test run.
func seed(t *testing.T, config TestConfig, jurisdiction, zipPrefix string) {
	t.Helper()
	if _, loaded := seedOnce.LoadOrStore(jurisdiction, true); loaded {
		return
	}

	rates := map[string]string{
		"liability":                  "6.50",
		"collision":                  "9.00",
		"comprehensive":              "4.00",
		"uninsured_motorist":         "1.50",
		"personal_injury_protection": "3.00",
	}
	for coverage, rate := range rates {
		status, body := call(t, config, http.MethodPut, "/v1/rates", map[string]any{
			"jurisdiction":  jurisdiction,
			"product":       "personal_auto",
			"coverage":      coverage,
			"baseRate":      rate,
			"effectiveFrom": "2025-01-01T00:00:00Z",
		})
		if status != http.StatusOK {
			t.Fatalf("Failed to publish %s rate: %d %s", coverage, status, string(body))
		}
	}

	status, body := call(t, config, http.MethodPut, "/v1/minimum-premiums", map[string]any{
		"jurisdiction":  jurisdiction,
		"product":       "personal_auto",
		"amount":        "450",
		"effectiveFrom": "2025-01-01T00:00:00Z",
	})
	if status != http.StatusOK {
		t.Fatalf("Failed to publish minimum premium: %d %s", status, string(body))
	}

	status, body = call(t, config, http.MethodPut, fmt.Sprintf("/v1/territories/%s/%s-IT", jurisdiction, jurisdiction), map[string]any{
		"zipCodes":   []string{zipPrefix + "01", zipPrefix + "02"},
		"baseFactor": "1.10",
		"risk": map[string]any{
			"crimeRate":       0.3,
			"weatherRisk":     0.2,
			"trafficDensity":  0.5,
			"catastropheRisk": 0.2,
		},
	})
	if status != http.StatusOK {
		t.Fatalf("Failed to upsert territory: %d %s", status, string(body))
	}
}

// quote builds a clean-driver quote. Options mutate it before sending.
func quote(jurisdiction, zip string, opts ...func(map[string]any)) map[string]any {
	q := map[string]any{
		"jurisdiction":  jurisdiction,
		"product":       "personal_auto",
		"effectiveDate": "2026-03-01T00:00:00Z",
		"zipCode":       zip,
		"vehicle": map[string]any{
			"year":          2022,
			"make":          "Honda",
			"model":         "Accord",
			"class":         "standard",
			"usage":         "commute",
			"annualMileage": 12000,
			"value":         "28000",
		},
		"drivers": []map[string]any{
			{"id": "d1", "age": 40, "yearsLicensed": 20},
		},
		"coverages": []map[string]any{
			{"type": "liability", "limit": "100000"},
			{"type": "collision", "limit": "30000", "deductible": "500"},
			{"type": "comprehensive", "limit": "30000", "deductible": "500"},
			{"type": "uninsured_motorist", "limit": "100000"},
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func withDriver(d map[string]any) func(map[string]any) {
	return func(q map[string]any) { q["drivers"] = []map[string]any{d} }
}

// ============================================================================
// SCENARIO 1: Clean driver in California
// ============================================================================

func TestCleanQuote_Reconciles(t *testing.T) {
	/*
	   SCENARIO: 40-year-old driver, 20 years licensed, standard sedan, CA.

	   EXPECTED BEHAVIOR:
	   - Base premium is the sum of limit/1000 × rate per coverage: 1190
	   - final = factored − discounts + surcharges, floored at the minimum
	*/
	config := getTestConfig()
	seed(t, config, "CA", "900")

	result := premium(t, config, quote("CA", "90001"))

	if !result.BasePremium.Equal(decimal.NewFromInt(1190)) {
		t.Errorf("Expected base premium 1190, got %s", result.BasePremium)
	}

	want := result.FactoredPremium.Sub(result.TotalDiscount).Add(result.TotalSurcharge)
	if want.LessThan(result.MinimumPremium) {
		want = result.MinimumPremium
	}
	if !result.FinalPremium.Equal(want.Round(2)) {
		t.Errorf("Final premium %s does not reconcile (want %s)", result.FinalPremium, want.Round(2))
	}
	if result.Metadata.TerritoryID != "CA-IT" || result.Metadata.EngineVersion == "" {
		t.Errorf("Unexpected metadata %+v", result.Metadata)
	}

	t.Logf("✓ Clean quote: final=%s tier=%s latency=%.2fms", result.FinalPremium, result.RiskTier, result.Metadata.LatencyMs)
}

// ============================================================================
// SCENARIO 2: Identical quote hits the result cache
// ============================================================================

func TestRepeatQuote_ResultCache(t *testing.T) {
	config := getTestConfig()
	seed(t, config, "CA", "900")

	q := quote("CA", "90002", withDriver(map[string]any{"id": "cache-d1", "age": 52, "yearsLicensed": 30}))
	first := premium(t, config, q)
	second := premium(t, config, q)

	if !second.Metadata.CacheHit {
		t.Error("Expected the second identical quote to hit the result cache")
	}
	if second.CalculationID != first.CalculationID || !second.FinalPremium.Equal(first.FinalPremium) {
		t.Errorf("Cached result differs: %s/%s vs %s/%s",
			first.CalculationID, first.FinalPremium, second.CalculationID, second.FinalPremium)
	}
}

// ============================================================================
// SCENARIO 3: Credit-based pricing is banned in California
// ============================================================================

func TestCreditInCalifornia_RegulatoryViolation(t *testing.T) {
	/*
	   EXPECTED BEHAVIOR:
	   - A credit signal produces a credit factor
	   - The validator rejects it with REG-001 and HTTP 422
	*/
	config := getTestConfig()
	seed(t, config, "CA", "900")

	resp := rejected(t, config, quote("CA", "90001", func(q map[string]any) {
		q["signals"] = map[string]any{"creditScore": 580}
	}), http.StatusUnprocessableEntity)

	if resp.Kind != "regulatory_violation" {
		t.Errorf("Expected regulatory_violation, got %s", resp.Kind)
	}
	found := false
	for _, v := range resp.Violations {
		if v.RuleID == "REG-001" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected REG-001, got %+v", resp.Violations)
	}
}

// ============================================================================
// SCENARIO 4: DUI driver in Texas
// ============================================================================

func TestDUIDriver_Surcharged(t *testing.T) {
	/*
	   EXPECTED BEHAVIOR:
	   - Two DUI convictions add a DUI surcharge plus the SR-22 filing fee
	   - The risk tier is at least non_standard
	*/
	config := getTestConfig()
	seed(t, config, "TX", "750")

	result := premium(t, config, quote("TX", "75001", withDriver(map[string]any{
		"id": "dui-d1", "age": 35, "yearsLicensed": 15, "duis": 2, "sr22Required": true,
	})))

	if !result.TotalSurcharge.IsPositive() {
		t.Fatalf("Expected surcharges, got %s", result.TotalSurcharge)
	}
	if result.RiskTier != "non_standard" && result.RiskTier != "high_risk" {
		t.Errorf("Expected non_standard or high_risk tier, got %s", result.RiskTier)
	}
	t.Logf("✓ DUI quote: final=%s surcharges=%d tier=%s", result.FinalPremium, len(result.Surcharges), result.RiskTier)
}

// ============================================================================
// SCENARIO 5: Missing configuration
// ============================================================================

func TestMissingConfiguration(t *testing.T) {
	config := getTestConfig()
	seed(t, config, "CA", "900")

	tests := []struct {
		name  string
		quote map[string]any
	}{
		{"UnknownZIP", quote("CA", "94105")},
		{"UnknownJurisdiction", quote("ZZ", "90001")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rejected(t, config, tt.quote, http.StatusUnprocessableEntity)
			if resp.Kind != "configuration_missing" {
				t.Errorf("Expected configuration_missing, got %s: %s", resp.Kind, resp.Error)
			}
		})
	}
}

// ============================================================================
// SCENARIO 6: Invalid input
// ============================================================================

func TestInvalidQuote(t *testing.T) {
	config := getTestConfig()

	resp := rejected(t, config, quote("CA", "90001", func(q map[string]any) {
		q["drivers"] = []map[string]any{}
	}), http.StatusBadRequest)
	if resp.Kind != "validation_failed" {
		t.Errorf("Expected validation_failed, got %s", resp.Kind)
	}
}

// ============================================================================
// SCENARIO 7: Background recalculation
// ============================================================================

func TestRecalculation_Completes(t *testing.T) {
	config := getTestConfig()
	seed(t, config, "CA", "900")

	status, body := call(t, config, http.MethodPost, "/v1/recalculations?wait=5s", quote("CA", "90001"))
	if status == http.StatusServiceUnavailable {
		t.Skip("recalculation worker disabled on this server")
	}
	if status != http.StatusOK {
		t.Fatalf("Expected 200 after waiting, got %d: %s", status, string(body))
	}

	var task struct {
		TaskID string           `json:"taskId"`
		Status string           `json:"status"`
		Result *PremiumResponse `json:"result"`
	}
	unmarshal(t, body, &task)
	if task.Status != "completed" || task.Result == nil {
		t.Fatalf("Expected a completed task, got %s", string(body))
	}

	status, _ = call(t, config, http.MethodGet, "/v1/recalculations/"+task.TaskID, nil)
	if status != http.StatusOK {
		t.Errorf("Expected the task to be queryable, got %d", status)
	}
}

// ============================================================================
// SCENARIO 8: Latency stays inside the target
// ============================================================================

func TestPerformance_WithinTarget(t *testing.T) {
	config := getTestConfig()
	seed(t, config, "CA", "900")

	for i := range 20 {
		premium(t, config, quote("CA", "90001", withDriver(map[string]any{
			"id": fmt.Sprintf("perf-%d", i), "age": 30 + i, "yearsLicensed": 10,
		})))
	}

	status, body := call(t, config, http.MethodGet, "/v1/performance", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	var m struct {
		TotalCalculations int64   `json:"totalCalculations"`
		P95Ms             float64 `json:"p95Ms"`
		SLATargetMs       float64 `json:"slaTargetMs"`
	}
	unmarshal(t, body, &m)

	if m.TotalCalculations < 20 {
		t.Errorf("Expected at least 20 calculations, got %d", m.TotalCalculations)
	}
	if m.P95Ms > m.SLATargetMs {
		t.Logf("Note: p95 %.2fms is above the %.0fms target", m.P95Ms, m.SLATargetMs)
	}
	t.Logf("✓ Performance: %d calculations, p95=%.2fms", m.TotalCalculations, m.P95Ms)
}
