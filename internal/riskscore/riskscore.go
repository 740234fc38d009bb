// Package riskscore is the HTTP adapter of the optional AI risk scorer.
package riskscore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidResponse is returned when the scorer answers with an unusable body.
var ErrInvalidResponse = errors.New("invalid risk score response")

// DefaultTimeout bounds a scoring call when none is configured.
const DefaultTimeout = 20 * time.Millisecond

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 64 << 10

var tracer = otel.Tracer("kestrel-riskscore")

// Client calls a scoring endpoint that accepts a ScoreInput as JSON and
// answers with an AIRiskScore.
type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

var _ domain.RiskScorer = (*Client)(nil)

// New creates a client. A nil httpClient uses http.DefaultClient.
func New(cfg domain.RiskScorerConfig, httpClient *http.Client) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("risk scorer url is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http:    httpClient,
	}, nil
}

// Score asks the scorer for a risk score within the configured timeout.
func (c *Client) Score(ctx context.Context, input *domain.ScoreInput) (*domain.AIRiskScore, error) {
	ctx, span := tracer.Start(ctx, "riskscore.Score")
	defer span.End()
	span.SetAttributes(attribute.String("jurisdiction", input.Jurisdiction))

	score, err := c.score(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("score", score.Score),
		attribute.Float64("confidence", score.Confidence),
	)
	return score, nil
}

func (c *Client) score(ctx context.Context, input *domain.ScoreInput) (*domain.AIRiskScore, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode score input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("risk scorer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, fmt.Errorf("risk scorer returned status %d", resp.StatusCode)
	}

	var out domain.AIRiskScore
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Score < 0 || out.Score > 1 || out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("%w: score and confidence must be within [0, 1]", ErrInvalidResponse)
	}
	return &out, nil
}
