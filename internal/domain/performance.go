package domain

import (
	"context"
	"time"
)

// PerformanceRecord is emitted once per calculation.
type PerformanceRecord struct {
	ID            string    `json:"id"`
	CalculationID string    `json:"calculationId"`
	Jurisdiction  string    `json:"jurisdiction"`
	ElapsedMs     float64   `json:"elapsedMs"`
	TargetMs      float64   `json:"targetMs"`
	CacheHit      bool      `json:"cacheHit"`
	Slow          bool      `json:"slow"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// PerformanceMetrics is the snapshot served by the admin entry point.
type PerformanceMetrics struct {
	TotalCalculations int64   `json:"totalCalculations"`
	Failures          int64   `json:"failures"`
	ResultCacheHits   int64   `json:"resultCacheHits"`
	CacheHits         int64   `json:"cacheHits"`
	CacheMisses       int64   `json:"cacheMisses"`
	CacheHitRate      float64 `json:"cacheHitRate"`
	AverageMs         float64 `json:"averageMs"`
	P50Ms             float64 `json:"p50Ms"`
	P95Ms             float64 `json:"p95Ms"`
	P99Ms             float64 `json:"p99Ms"`
	MaxMs             float64 `json:"maxMs"`
	SLATargetMs       float64 `json:"slaTargetMs"`
	SLAViolations     int64   `json:"slaViolations"`
	SLACompliance     float64 `json:"slaCompliance"`
	WindowSize        int     `json:"windowSize"`
}

// WarmReport summarises a cache warming run for one jurisdiction.
type WarmReport struct {
	Jurisdiction    string `json:"jurisdiction"`
	Rates           int    `json:"rates"`
	MinimumPremiums int    `json:"minimumPremiums"`
	Territories     int    `json:"territories"`
	ZIPCodes        int    `json:"zipCodes"`
}

// RiskScorer is the optional AI risk scoring collaborator.
// A failure must never fail a calculation.
type RiskScorer interface {
	Score(ctx context.Context, input *ScoreInput) (*AIRiskScore, error)
}

// ScoreInput is what the risk scorer sees about a quote.
type ScoreInput struct {
	Jurisdiction string           `json:"jurisdiction"`
	Customer     *Customer        `json:"customer,omitempty"`
	Vehicle      Vehicle          `json:"vehicle"`
	Drivers      []Driver         `json:"drivers"`
	Signals      *ExternalSignals `json:"signals,omitempty"`
}
