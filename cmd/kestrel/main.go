// Kestrel - insurance premium rating engine.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/perf"
	"github.com/opensource-finance/kestrel/internal/rating"
	"github.com/opensource-finance/kestrel/internal/ratetable"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/riskscore"
	"github.com/opensource-finance/kestrel/internal/territory"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("KESTREL_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"sla_target", cfg.Rating.SLATarget,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

func run(ctx context.Context, cfg *domain.Config) error {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	if tp, ok := cacheImpl.(*cache.TwoPhaseCache); ok {
		if err := tp.AttachBus(ctx, busImpl); err != nil {
			return err
		}
		slog.Info("cross-node cache invalidation enabled")
	}
	strategy := cache.NewStrategy(cacheImpl, cfg.Cache)
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var scorer domain.RiskScorer
	if cfg.RiskScorer.Enabled {
		client, err := riskscore.New(cfg.RiskScorer, &http.Client{Timeout: 2 * time.Second})
		if err != nil {
			return fmt.Errorf("failed to initialize risk scorer: %w", err)
		}
		scorer = client
		slog.Info("AI risk scorer enabled", "url", cfg.RiskScorer.URL, "timeout", cfg.RiskScorer.Timeout)
	}

	orch, err := rating.New(rating.Deps{
		Config:      cfg,
		Rates:       ratetable.NewResolver(repo, strategy),
		Territories: territory.NewManager(repo, strategy),
		Cache:       strategy,
		Tracker:     perf.NewTracker(cfg.Rating, reg, strategy, repo),
		Sink:        repo,
		Scorer:      scorer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize rating engine: %w", err)
	}

	// Warming failures are not fatal: lookups fall through to the store.
	if reports, err := orch.WarmCaches(ctx, cfg.Worker.Jurisdictions); err != nil {
		slog.Warn("cache warming incomplete", "error", err, "jurisdictions", len(reports))
	}

	var recalc *worker.Worker
	if cfg.Worker.Enabled {
		recalc = worker.NewWorker(busImpl, orch)
		if err := recalc.Start(worker.Config{Jurisdictions: cfg.Worker.Jurisdictions}); err != nil {
			return fmt.Errorf("failed to start recalculation worker: %w", err)
		}
		slog.Info("recalculation worker started", "jurisdictions", cfg.Worker.Jurisdictions)
	}

	handler := api.NewHandler(orch, recalc, repo, strategy, busImpl, Version)
	srv := api.NewServer(cfg.Server, handler, cfg.Metrics, reg)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if recalc != nil {
		if err := recalc.Stop(); err != nil {
			slog.Error("failed to stop recalculation worker", "error", err)
		}
	}
	return nil
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  premium rating engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  SLA:      %s per calculation\n", cfg.Rating.SLATarget)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /v1/premiums                        - Price a quote")
	fmt.Println("    POST   /v1/recalculations                  - Queue a recalculation")
	fmt.Println("    GET    /v1/recalculations/{id}             - Recalculation status")
	fmt.Println("    PUT    /v1/rates                           - Publish a rate")
	fmt.Println("    PUT    /v1/minimum-premiums                - Publish a minimum premium")
	fmt.Println("    GET    /v1/territories/{jurisdiction}      - List territories")
	fmt.Println("    PUT    /v1/territories/{jurisdiction}/{id} - Upsert a territory")
	fmt.Println("    DELETE /v1/territories/{jurisdiction}/{id} - Delete a territory")
	fmt.Println("    POST   /v1/cache/warm                      - Warm caches")
	fmt.Println("    GET    /v1/performance                     - Latency and cache metrics")
	fmt.Println("    GET    /health  /ready  /metrics")
	fmt.Println()
}
