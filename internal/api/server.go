// Package api exposes the engine over HTTP: campaign lifecycle endpoints,
// pure schedule previews, and the dispatch tick trigger invoked by an
// external scheduler.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/CesarNXT/topzap-engine/internal/config"
)

// Server represents the API server.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	return &Server{
		config:  cfg,
		handler: SetupRoutes(h),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
