// Package perf tracks calculation latency against the soft SLA target.
// Nothing here ever fails or slows down a calculation.
package perf

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultWindow is the number of recent calculations kept for percentiles.
const DefaultWindow = 1000

// DefaultTarget is the soft latency budget of one calculation.
const DefaultTarget = 50 * time.Millisecond

// Tracker keeps a rolling latency window and forwards slow calculations to
// the SLA counter and the sink. Safe for concurrent use.
type Tracker struct {
	target time.Duration
	cache  *cache.Strategy
	sink   domain.Sink

	mu     sync.Mutex
	window []float64
	next   int
	filled bool
	hourly map[string]int64

	total         atomic.Int64
	failures      atomic.Int64
	resultHits    atomic.Int64
	slaViolations atomic.Int64

	duration   *prometheus.HistogramVec
	outcomes   *prometheus.CounterVec
	violations *prometheus.CounterVec
}

// NewTracker creates a tracker. The cache and sink are optional; metrics are
// registered only when reg is non-nil.
func NewTracker(cfg domain.RatingConfig, reg prometheus.Registerer, c *cache.Strategy, sink domain.Sink) *Tracker {
	size := cfg.LatencyWindow
	if size <= 0 {
		size = DefaultWindow
	}
	target := cfg.SLATarget
	if target <= 0 {
		target = DefaultTarget
	}

	t := &Tracker{
		target: target,
		cache:  c,
		sink:   sink,
		window: make([]float64, size),
		hourly: make(map[string]int64),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_rating_duration_seconds",
			Help:    "Premium calculation latency.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 1},
		}, []string{"jurisdiction", "cache_hit"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_rating_calculations_total",
			Help: "Premium calculations by outcome.",
		}, []string{"jurisdiction", "outcome"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_rating_sla_violations_total",
			Help: "Calculations slower than the latency target.",
		}, []string{"jurisdiction"}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{t.duration, t.outcomes, t.violations}
		if c != nil {
			collectors = append(collectors,
				prometheus.NewCounterFunc(prometheus.CounterOpts{
					Name: "kestrel_cache_hits_total",
					Help: "Cache lookups that found a value.",
				}, func() float64 {
					hits, _ := c.Stats()
					return float64(hits)
				}),
				prometheus.NewCounterFunc(prometheus.CounterOpts{
					Name: "kestrel_cache_misses_total",
					Help: "Cache lookups that found nothing.",
				}, func() float64 {
					_, misses := c.Stats()
					return float64(misses)
				}),
			)
		}
		reg.MustRegister(collectors...)
	}
	return t
}

// Target returns the latency budget.
func (t *Tracker) Target() time.Duration {
	return t.target
}

// Record adds one successful calculation. It fills in the record's ID, target,
// slow flag and timestamp.
func (t *Tracker) Record(ctx context.Context, rec *domain.PerformanceRecord) {
	rec.TargetMs = float64(t.target) / float64(time.Millisecond)
	rec.Slow = rec.ElapsedMs > rec.TargetMs
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	t.total.Add(1)
	if rec.CacheHit {
		t.resultHits.Add(1)
	}
	t.observe(rec.ElapsedMs)

	hit := "false"
	if rec.CacheHit {
		hit = "true"
	}
	t.duration.WithLabelValues(rec.Jurisdiction, hit).Observe(rec.ElapsedMs / 1000)
	t.outcomes.WithLabelValues(rec.Jurisdiction, "ok").Inc()

	if !rec.Slow {
		return
	}

	t.slaViolations.Add(1)
	t.violations.WithLabelValues(rec.Jurisdiction).Inc()
	slog.Warn("calculation exceeded latency target",
		"calculation_id", rec.CalculationID,
		"jurisdiction", rec.Jurisdiction,
		"duration_ms", rec.ElapsedMs,
		"target_ms", rec.TargetMs,
	)

	if t.cache != nil {
		n, err := t.cache.IncrementCounter(ctx, cache.NamespaceSLA, cache.SLAKey(rec.Jurisdiction, rec.RecordedAt), time.Hour)
		if err != nil {
			slog.Debug("sla counter update failed", "error", err)
		} else {
			t.mu.Lock()
			t.hourly[rec.Jurisdiction] = n
			t.mu.Unlock()
		}
	}
	if t.sink != nil {
		if err := t.sink.AppendPerformance(ctx, rec); err != nil {
			slog.Error("failed to append performance record", "calculation_id", rec.CalculationID, "error", err)
		}
	}
}

// RecordFailure counts a calculation that returned an error.
func (t *Tracker) RecordFailure(jurisdiction string, kind domain.ErrorKind) {
	t.total.Add(1)
	t.failures.Add(1)
	t.outcomes.WithLabelValues(jurisdiction, string(kind)).Inc()
}

// HourlySLAViolations returns the shared counter value last seen for a
// jurisdiction. With a distributed cache it spans every node.
func (t *Tracker) HourlySLAViolations(jurisdiction string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hourly[jurisdiction]
}

func (t *Tracker) observe(ms float64) {
	t.mu.Lock()
	t.window[t.next] = ms
	t.next++
	if t.next == len(t.window) {
		t.next = 0
		t.filled = true
	}
	t.mu.Unlock()
}

func (t *Tracker) samples() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.next
	if t.filled {
		n = len(t.window)
	}
	out := make([]float64, n)
	copy(out, t.window[:n])
	return out
}

// Metrics returns a snapshot of the window and counters.
func (t *Tracker) Metrics() domain.PerformanceMetrics {
	samples := t.samples()
	sort.Float64s(samples)

	m := domain.PerformanceMetrics{
		TotalCalculations: t.total.Load(),
		Failures:          t.failures.Load(),
		ResultCacheHits:   t.resultHits.Load(),
		SLATargetMs:       float64(t.target) / float64(time.Millisecond),
		SLAViolations:     t.slaViolations.Load(),
		WindowSize:        len(samples),
		SLACompliance:     1,
	}

	if t.cache != nil {
		m.CacheHits, m.CacheMisses = t.cache.Stats()
		if lookups := m.CacheHits + m.CacheMisses; lookups > 0 {
			m.CacheHitRate = float64(m.CacheHits) / float64(lookups)
		}
	}

	if len(samples) == 0 {
		return m
	}

	var sum float64
	slow := 0
	for _, s := range samples {
		sum += s
		if s > m.SLATargetMs {
			slow++
		}
	}
	m.AverageMs = sum / float64(len(samples))
	m.P50Ms = percentile(samples, 50)
	m.P95Ms = percentile(samples, 95)
	m.P99Ms = percentile(samples, 99)
	m.MaxMs = samples[len(samples)-1]
	m.SLACompliance = 1 - float64(slow)/float64(len(samples))
	return m
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
