package riskscore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestClientScore(t *testing.T) {
	ctx := context.Background()
	input := &domain.ScoreInput{Jurisdiction: "CA", Drivers: []domain.Driver{{ID: "d1", Age: 35}}}

	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer secret" {
				t.Errorf("expected bearer token, got %q", got)
			}
			var in domain.ScoreInput
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Errorf("failed to decode body: %v", err)
			}
			if in.Jurisdiction != "CA" {
				t.Errorf("expected jurisdiction CA, got %s", in.Jurisdiction)
			}
			json.NewEncoder(w).Encode(domain.AIRiskScore{
				Score:      0.42,
				Confidence: 0.9,
				Model:      "freq-v3",
				Factors:    []domain.ScoreAttribution{{Name: "mileage", Weight: 0.3}},
			})
		}))
		defer srv.Close()

		c, err := New(domain.RiskScorerConfig{URL: srv.URL, APIKey: "secret", Timeout: time.Second}, srv.Client())
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}

		score, err := c.Score(ctx, input)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if score.Score != 0.42 || score.Confidence != 0.9 || score.Model != "freq-v3" {
			t.Errorf("unexpected score %+v", score)
		}
		if len(score.Factors) != 1 {
			t.Errorf("expected 1 attribution, got %d", len(score.Factors))
		}
	})

	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c, _ := New(domain.RiskScorerConfig{URL: srv.URL, Timeout: time.Second}, srv.Client())
		if _, err := c.Score(ctx, input); err == nil {
			t.Error("expected error for 503")
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"score": 1.7, "confidence": 0.5}`))
		}))
		defer srv.Close()

		c, _ := New(domain.RiskScorerConfig{URL: srv.URL, Timeout: time.Second}, srv.Client())
		if _, err := c.Score(ctx, input); !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("expected ErrInvalidResponse, got %v", err)
		}
	})

	t.Run("MalformedBody", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		c, _ := New(domain.RiskScorerConfig{URL: srv.URL, Timeout: time.Second}, srv.Client())
		if _, err := c.Score(ctx, input); !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("expected ErrInvalidResponse, got %v", err)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c, _ := New(domain.RiskScorerConfig{URL: srv.URL, Timeout: 10 * time.Millisecond}, srv.Client())
		start := time.Now()
		if _, err := c.Score(ctx, input); err == nil {
			t.Error("expected timeout error")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("timeout not enforced, took %v", elapsed)
		}
	})
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(domain.RiskScorerConfig{}, nil); err == nil {
		t.Error("expected error without url")
	}

	c, err := New(domain.RiskScorerConfig{URL: "http://scorer.local"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", c.timeout)
	}
}
