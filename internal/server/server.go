package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/server/handler"
	"github.com/alanyoungcy/taper/internal/server/middleware"
	"github.com/alanyoungcy/taper/internal/server/ws"
)

// RateLimitConfig mirrors the server.rate_limit config section.
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // if empty, admin authentication is disabled
	CookieSecure bool
	RateLimit    RateLimitConfig
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Meets   *handler.MeetHandler
	Markets *handler.MarketHandler
	Picks   *handler.PickHandler
	Auth    *handler.AuthHandler
	Metrics http.Handler
}

// Deps are the optional collaborators of the middleware chain.
type Deps struct {
	Limiter  domain.RateLimiter
	Observer middleware.HTTPObserver
}

// Server is the HTTP + WebSocket API server for Taper.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Admin routes (auth callbacks, result recording) require the API key.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.APIKey)

	// --- Register routes ---

	// Health and metrics (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Catalog endpoints.
	mux.HandleFunc("GET /api/meets", handlers.Meets.ListMeets)
	mux.HandleFunc("GET /api/meets/{id}", handlers.Meets.GetMeet)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/spotlight", handlers.Markets.Spotlight)
	mux.Handle("POST /api/markets/{id}/result", admin(http.HandlerFunc(handlers.Markets.RecordResult)))

	// Pick endpoints, scoped to the requesting device.
	mux.HandleFunc("GET /api/picks", handlers.Picks.ListPicks)
	mux.HandleFunc("DELETE /api/picks", handlers.Picks.ClearAll)
	mux.HandleFunc("DELETE /api/picks/drafts", handlers.Picks.ClearDrafts)
	mux.HandleFunc("GET /api/picks/scoreboard", handlers.Picks.Scoreboard)
	mux.HandleFunc("PUT /api/picks/{marketID}", handlers.Picks.SetPick)
	mux.HandleFunc("POST /api/picks/{marketID}/submit", handlers.Picks.Submit)
	mux.HandleFunc("DELETE /api/picks/{marketID}/submit", handlers.Picks.Unlock)

	// Auth-callback surface.
	mux.Handle("POST /api/auth/session", admin(http.HandlerFunc(handlers.Auth.SignIn)))
	mux.Handle("DELETE /api/auth/session", admin(http.HandlerFunc(handlers.Auth.SignOut)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain. Instrument sits next to the mux so it sees
	// the matched pattern on the request the mux was handed.
	var h http.Handler = mux
	if deps.Observer != nil {
		h = middleware.Instrument(deps.Observer)(h)
	}
	h = middleware.Device(cfg.CookieSecure)(h)
	if cfg.RateLimit.Enabled && deps.Limiter != nil {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
