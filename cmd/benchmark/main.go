// Benchmark tool for measuring Kestrel quote latency.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -n 5000 -seed
//
// This tool:
//  1. Optionally seeds rates, minimum premiums and territories over the admin API
//  2. Fires synthetic quotes at POST /v1/premiums from concurrent workers
//  3. Reports p50/p95/p99 latency against the per-calculation target
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
)

// zipsPerJurisdiction is how many ZIP codes the seeded territory owns.
const zipsPerJurisdiction = 50

var baseRates = map[domain.CoverageType]string{
	domain.CoverageLiability:         "6.50",
	domain.CoverageCollision:         "9.00",
	domain.CoverageComprehensive:     "4.00",
	domain.CoverageUninsuredMotorist: "1.50",
	domain.CoveragePIP:               "3.00",
	domain.CoverageMedicalPayments:   "1.20",
}

// Metrics tracks benchmark results.
type Metrics struct {
	mu        sync.Mutex
	latencies []time.Duration

	OK         atomic.Int64
	Rejected   atomic.Int64
	Errors     atomic.Int64
	CacheHits  atomic.Int64
	OverTarget atomic.Int64
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	total := flag.Int("n", 2000, "Number of quotes to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	codes := flag.String("jurisdictions", "CA,TX,FL,IL,NY,MI", "Comma-separated jurisdictions to quote")
	target := flag.Duration("target", 50*time.Millisecond, "Per-calculation latency target")
	unique := flag.Bool("unique", false, "Make every quote unique so the result cache never hits")
	seed := flag.Bool("seed", false, "Publish rates, minimum premiums and territories first")
	verbose := flag.Bool("verbose", false, "Print each quote result")
	flag.Parse()

	var list []string
	for _, c := range strings.Split(*codes, ",") {
		code := jurisdiction.Normalize(c)
		if _, ok := jurisdiction.Lookup(code); !ok {
			fmt.Printf("ERROR: unsupported jurisdiction %q\n", c)
			os.Exit(1)
		}
		list = append(list, code)
	}

	fmt.Println("KESTREL BENCHMARK - premium calculation latency")
	fmt.Printf("\nKestrel URL:    %s\n", *baseURL)
	fmt.Printf("Quotes:         %d\n", *total)
	fmt.Printf("Workers:        %d\n", *workers)
	fmt.Printf("Jurisdictions:  %s\n", strings.Join(list, ", "))
	fmt.Printf("Target:         %s\n", *target)
	fmt.Printf("Unique quotes:  %v\n", *unique)
	fmt.Println()

	client := &http.Client{Timeout: 10 * time.Second}

	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	if *seed {
		for _, code := range list {
			if err := seedJurisdiction(client, *baseURL, code); err != nil {
				fmt.Printf("ERROR: failed to seed %s: %v\n", code, err)
				os.Exit(1)
			}
		}
		fmt.Printf("Seeded %d jurisdictions\n", len(list))
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	metrics := runBenchmark(client, *baseURL, list, *total, *workers, *target, *unique, *verbose)
	printResults(metrics, time.Since(start), *target)
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func zipCode(code string, i int) string {
	prefix := map[string]int{"CA": 900, "TX": 750, "NY": 100, "FL": 330, "MI": 480, "IL": 600}[code]
	return fmt.Sprintf("%03d%02d", prefix, i)
}

func seedJurisdiction(client *http.Client, baseURL, code string) error {
	effective := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for coverage, rate := range baseRates {
		err := send(client, http.MethodPut, baseURL+"/v1/rates", domain.RateTable{
			Jurisdiction:  code,
			Product:       domain.ProductPersonalAuto,
			Coverage:      coverage,
			BaseRate:      decimal.RequireFromString(rate),
			EffectiveFrom: effective,
		}, nil)
		if err != nil {
			return fmt.Errorf("rate %s: %w", coverage, err)
		}
	}

	err := send(client, http.MethodPut, baseURL+"/v1/minimum-premiums", domain.MinimumPremium{
		Jurisdiction:  code,
		Product:       domain.ProductPersonalAuto,
		Amount:        decimal.NewFromInt(400),
		EffectiveFrom: effective,
	}, nil)
	if err != nil {
		return fmt.Errorf("minimum premium: %w", err)
	}

	zips := make([]string, zipsPerJurisdiction)
	for i := range zips {
		zips[i] = zipCode(code, i)
	}
	return send(client, http.MethodPut, fmt.Sprintf("%s/v1/territories/%s/%s-BENCH", baseURL, code, code), domain.TerritoryDefinition{
		ZIPCodes:   zips,
		BaseFactor: decimal.RequireFromString("1.05"),
		Risk: domain.RiskFactors{
			CrimeRate:       0.4,
			WeatherRisk:     0.3,
			TrafficDensity:  0.5,
			CatastropheRisk: 0.2,
		},
	}, nil)
}

// syntheticQuote builds a plausible quote. With unique set the mileage makes
// every request key distinct.
func syntheticQuote(r *rand.Rand, code string, seq int, unique bool) domain.RatingRequest {
	age := 18 + r.IntN(60)
	mileage := 5000 + 1000*r.IntN(15)
	if unique {
		mileage += seq
	}

	req := domain.RatingRequest{
		Jurisdiction:  code,
		Product:       domain.ProductPersonalAuto,
		EffectiveDate: time.Now().UTC().Truncate(24 * time.Hour),
		ZIPCode:       zipCode(code, r.IntN(zipsPerJurisdiction)),
		Vehicle: domain.Vehicle{
			Year:          2012 + r.IntN(14),
			Make:          "Toyota",
			Model:         "Camry",
			Class:         domain.VehicleStandard,
			Usage:         domain.UsageCommute,
			AnnualMileage: mileage,
			Value:         decimal.NewFromInt(int64(15000 + 1000*r.IntN(30))),
		},
		Drivers: []domain.Driver{{
			ID:            fmt.Sprintf("bench-%d", seq),
			Age:           age,
			YearsLicensed: r.IntN(age - 15),
			Violations:    r.IntN(3),
			Accidents:     r.IntN(2),
		}},
		Coverages: []domain.CoverageSelection{
			{Type: domain.CoverageLiability, Limit: decimal.NewFromInt(100000)},
			{Type: domain.CoverageCollision, Limit: decimal.NewFromInt(30000), Deductible: decimal.NewFromInt(500)},
		},
		Billing: domain.BillingOptions{Paperless: r.IntN(2) == 0},
	}

	rules, _ := jurisdiction.Lookup(code)
	for _, c := range rules.MandatoryCoverages {
		if c == domain.CoverageLiability || c == domain.CoverageCollision {
			continue
		}
		req.Coverages = append(req.Coverages, domain.CoverageSelection{Type: c, Limit: decimal.NewFromInt(50000)})
	}
	return req
}

func runBenchmark(client *http.Client, baseURL string, codes []string, total, workers int, target time.Duration, unique, verbose bool) *Metrics {
	metrics := &Metrics{latencies: make([]time.Duration, 0, total)}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(workers)

	for i := range total {
		code := codes[i%len(codes)]
		g.Go(func() error {
			r := rand.New(rand.NewPCG(uint64(i), 0x6b657374))
			req := syntheticQuote(r, code, i, unique)

			start := time.Now()
			var result domain.RatingResult
			err := sendContext(ctx, client, http.MethodPost, baseURL+"/v1/premiums", req, &result)
			elapsed := time.Since(start)

			var status *statusError
			switch {
			case err == nil:
				metrics.OK.Add(1)
				metrics.observe(elapsed)
				if result.Metadata.CacheHit {
					metrics.CacheHits.Add(1)
				}
				if elapsed > target {
					metrics.OverTarget.Add(1)
				}
			case asStatus(err, &status) && status.code < http.StatusInternalServerError:
				metrics.Rejected.Add(1)
			default:
				metrics.Errors.Add(1)
			}

			if verbose {
				if err != nil {
					fmt.Printf("ERROR %s #%d -> %v\n", code, i, err)
				} else {
					fmt.Printf("%s #%-6d | final %10s | tier %-12s | %6.2f ms | cache %v\n",
						code, i, result.FinalPremium.StringFixed(2), result.RiskTier,
						float64(elapsed.Microseconds())/1000, result.Metadata.CacheHit)
				}
			}
			return nil
		})
	}
	g.Wait()

	return metrics
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func asStatus(err error, target **statusError) bool {
	se, ok := err.(*statusError)
	if ok {
		*target = se
	}
	return ok
}

func send(client *http.Client, method, url string, body, out any) error {
	return sendContext(context.Background(), client, method, url, body, out)
}

func sendContext(ctx context.Context, client *http.Client, method, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return &statusError{code: resp.StatusCode, body: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func printResults(m *Metrics, duration time.Duration, target time.Duration) {
	lat := slices.Clone(m.latencies)
	slices.Sort(lat)

	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nREQUESTS\n")
	fmt.Printf("   Priced:           %d\n", m.OK.Load())
	fmt.Printf("   Rejected (4xx):   %d\n", m.Rejected.Load())
	fmt.Printf("   Errors:           %d\n", m.Errors.Load())
	fmt.Printf("   Result cache:     %d hits\n", m.CacheHits.Load())

	fmt.Printf("\nLATENCY (client side)\n")
	if len(lat) > 0 {
		var sum time.Duration
		for _, d := range lat {
			sum += d
		}
		fmt.Printf("   Avg:   %8.2f ms\n", ms(sum/time.Duration(len(lat))))
		fmt.Printf("   p50:   %8.2f ms\n", ms(percentile(lat, 0.50)))
		fmt.Printf("   p95:   %8.2f ms\n", ms(percentile(lat, 0.95)))
		fmt.Printf("   p99:   %8.2f ms\n", ms(percentile(lat, 0.99)))
		fmt.Printf("   Max:   %8.2f ms\n", ms(lat[len(lat)-1]))
	}

	fmt.Printf("\nTHROUGHPUT\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if n := m.OK.Load() + m.Rejected.Load() + m.Errors.Load(); n > 0 {
		fmt.Printf("   Throughput:       %.2f quotes/sec\n", float64(n)/duration.Seconds())
	}

	fmt.Printf("\nTARGET %s\n", target)
	if len(lat) > 0 {
		compliance := 100 * (1 - float64(m.OverTarget.Load())/float64(len(lat)))
		fmt.Printf("   Over target:      %d (%.2f%% within target)\n", m.OverTarget.Load(), compliance)
		if percentile(lat, 0.95) <= target {
			fmt.Println("   p95 meets the target")
		} else {
			fmt.Println("   p95 misses the target")
		}
	}
	fmt.Println()
}
