// Package server exposes the dashboard to a browser over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/orderdesk/internal/server/handler"
	"github.com/alanyoungcy/orderdesk/internal/server/middleware"
	"github.com/alanyoungcy/orderdesk/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route except /api/health. Empty disables the check.
	APIKey string
}

// Handlers aggregates the route handlers. Tape and Metrics may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Session *handler.SessionHandler
	View    *handler.ViewHandler
	Orders  *handler.OrderHandler
	Tape    *handler.TapeHandler
	Metrics http.Handler
}

// Server is the local API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and wraps them in CORS, logging and API key
// middleware.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           routes(cfg, h, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Refresh waits for a remote fetch before replying.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

func routes(cfg Config, h Handlers, hub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/session", h.Session.Get)
	mux.HandleFunc("POST /api/session/login", h.Session.Login)
	mux.HandleFunc("POST /api/session/register", h.Session.Register)
	mux.HandleFunc("POST /api/session/logout", h.Session.Logout)

	mux.HandleFunc("GET /api/view", h.View.View)
	mux.HandleFunc("GET /api/book", h.View.Book)
	mux.HandleFunc("GET /api/orders", h.View.Orders)
	mux.HandleFunc("GET /api/trades", h.View.Trades)
	mux.HandleFunc("POST /api/refresh/{feed}", h.View.Refresh)

	mux.HandleFunc("POST /api/orders", h.Orders.PlaceOrder)
	mux.HandleFunc("GET /api/orders/form", h.Orders.Form)

	if h.Tape != nil {
		mux.HandleFunc("GET /api/tape/history", h.Tape.History)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var handler http.Handler = mux
	handler = middleware.Auth(cfg.APIKey, "/api/health")(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
