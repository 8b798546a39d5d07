package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/paygrid/internal/domain"
	"github.com/opensource-finance/paygrid/internal/payslip"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. repo, cache and bus may be nil;
// the endpoints that need them answer 503.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, processor *payslip.Processor, evaluation domain.EvaluationConfig, version string) *Server {
	handler := NewHandler(repo, cache, bus, processor, evaluation, version)
	router := chi.NewRouter()

	// Tracing is outermost after CORS so every later log line and the
	// panic handler can see the request ID. Recover sits inside the
	// logger so a recovered panic is logged as a 500.
	router.Use(CORSMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(MetricsMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Configuration management
		r.Route("/configurations", func(r chi.Router) {
			r.Get("/", handler.ListConfigurations)
			r.Post("/", handler.CreateConfiguration)
			r.Post("/validate", handler.ValidateConfiguration)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetConfiguration)
				r.Put("/", handler.UpdateConfiguration)
				r.Delete("/", handler.DeleteConfiguration)
				r.Get("/export", handler.ExportConfiguration)

				// Payslip computation
				r.Post("/payslips", handler.ComputePayslip)
				r.Post("/payslips/async", handler.RequestPayslip)
			})
		})

		// Payslip retrieval
		r.Get("/payslips/{id}", handler.GetPayslip)

		// Ad-hoc rule evaluation
		r.Post("/rules/evaluate", handler.EvaluateChain)
		r.Post("/rules/brackets", handler.ApplyBrackets)
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
