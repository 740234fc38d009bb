package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates the API server. gatherer may be nil to disable /metrics.
func NewServer(cfg domain.ServerConfig, handler *Handler, metrics domain.MetricsConfig, gatherer prometheus.Gatherer) *Server {
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	if metrics.Enabled && gatherer != nil {
		path := metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.Method(http.MethodGet, path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	router.Route("/v1", func(r chi.Router) {
		r.Use(JSONMiddleware)

		r.Post("/premiums", handler.CalculatePremium)

		r.Get("/performance", handler.Performance)
		r.Post("/cache/warm", handler.WarmCaches)

		r.Put("/rates", handler.PublishRate)
		r.Put("/minimum-premiums", handler.PublishMinimumPremium)

		r.Get("/territories/{jurisdiction}", handler.ListTerritories)
		r.Get("/territories/{jurisdiction}/{id}", handler.GetTerritory)
		r.Put("/territories/{jurisdiction}/{id}", handler.PutTerritory)
		r.Delete("/territories/{jurisdiction}/{id}", handler.DeleteTerritory)

		r.Post("/recalculations", handler.SubmitRecalculation)
		r.Get("/recalculations/{id}", handler.GetRecalculation)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
