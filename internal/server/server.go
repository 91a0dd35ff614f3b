// Package server exposes the pricing engine and negotiation workflow over
// HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/server/handler"
	"github.com/annabazaar/pricingengine/internal/server/middleware"
	"github.com/annabazaar/pricingengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per window per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Audit and Ingest may be nil.
type Handlers struct {
	Health       *handler.HealthHandler
	Pricing      *handler.PricingHandler
	Negotiations *handler.NegotiationHandler
	Audit        *handler.AuditHandler
	Ingest       *handler.IngestHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

const healthPath = "/api/health"

// NewServer creates a Server with all routes registered on a ServeMux and
// wrapped in the middleware chain: CORS, logging, auth, rate limit.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := Routes(handlers, wsHub)

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, healthPath)(h)
	h = middleware.Auth(cfg.APIKey, healthPath)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
	}
}

// Routes registers every endpoint on a fresh ServeMux without middleware.
func Routes(handlers Handlers, wsHub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/price-band", handlers.Pricing.GetPriceBand)
	mux.HandleFunc("POST /api/offers/classify", handlers.Pricing.ClassifyOffer)

	mux.HandleFunc("POST /api/negotiations", handlers.Negotiations.CreateNegotiation)
	mux.HandleFunc("GET /api/negotiations/{id}", handlers.Negotiations.GetNegotiation)
	mux.HandleFunc("POST /api/negotiations/{id}/offers", handlers.Negotiations.SubmitOffer)
	mux.HandleFunc("POST /api/negotiations/{id}/accept", handlers.Negotiations.Accept)
	mux.HandleFunc("POST /api/negotiations/{id}/reject", handlers.Negotiations.Reject)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if handlers.Ingest != nil {
		mux.HandleFunc("POST /api/ingest/trigger", handlers.Ingest.Trigger)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	return mux
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
