package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/MentalVibez/fleetdex/internal/config"
)

// Server wraps the REST listener and its lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the HTTP server with the handlers' routes mounted.
func NewServer(cfg config.ServerConfig, handlers *Handlers, logger *slog.Logger) *Server {
	router := mux.NewRouter()
	handlers.Register(router)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves requests until Shutdown is invoked. http.ErrServerClosed is
// swallowed; it is the expected outcome of a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "address", s.cfg.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the graceful timeout.
func (s *Server) Shutdown(ctx context.Context) {
	timeout := s.cfg.GracefulTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown was not clean", "error", err)
	}
}
