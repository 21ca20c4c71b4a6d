// Package http is the gateway's HTTP entry surface: the gin router with
// the admin routes and the catch-all proxy route, and the server that
// listens for it.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bnbong/bifrost/internal/config"
	"github.com/bnbong/bifrost/internal/observability"
)

// DefaultMaxHeaderBytes bounds request headers.
const DefaultMaxHeaderBytes = 1 << 20

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address           string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// ServerConfigFromConfig maps the server section of the gateway config.
func ServerConfigFromConfig(cfg config.ServerConfig) ServerConfig {
	return ServerConfig{
		Address:           cfg.ListenAddress(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout.Duration(),
		IdleTimeout:       cfg.IdleTimeout.Duration(),
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Server represents the HTTP server for the gateway.
type Server struct {
	handler http.Handler
	config  ServerConfig
	logger  observability.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	running    bool
}

// NewServer creates a new HTTP server for handler.
func NewServer(cfg ServerConfig, handler http.Handler, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	return &Server{
		handler: handler,
		config:  cfg,
		logger:  logger,
	}
}

// Listen binds the listener. It is split from Serve so callers learn about
// bind errors synchronously.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server already running")
	}

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	s.listener = ln
	// ReadTimeout and WriteTimeout stay zero; the service's request timeout
	// bounds a proxied call.
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    s.config.MaxHeaderBytes,
	}
	s.running = true
	return nil
}

// Serve accepts connections until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, ln := s.httpServer, s.listener
	s.mu.Unlock()

	if srv == nil {
		return errors.New("server not listening")
	}

	s.logger.Info("starting HTTP server",
		observability.String("address", ln.Addr().String()),
		observability.Duration("read_header_timeout", s.config.ReadHeaderTimeout),
		observability.Duration("idle_timeout", s.config.IdleTimeout),
	)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Start listens and serves.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
