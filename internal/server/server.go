// Package server exposes the session over a local HTTP API. It binds to
// loopback by default; there is no auth because the surface is the
// machine's own user.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/james-andrews-coulter/essay-search-engine/internal/config"
	"github.com/james-andrews-coulter/essay-search-engine/internal/session"
	"github.com/james-andrews-coulter/essay-search-engine/internal/telemetry"
)

// Server wraps the HTTP listener serving the search API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	addr       string
}

// New creates a server over the given session.
func New(cfg config.ServerConfig, sess *session.Session, recorder *telemetry.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	handler := NewRouter(sess, recorder, logger)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
		addr:   addr,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ListenAndServe blocks until the listener stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
