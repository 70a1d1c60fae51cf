// Package server runs the gin engine behind the gateway's HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alo17/secgateway/internal/middleware"
	"github.com/alo17/secgateway/internal/observability"
)

// Default listener settings.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

// Config configures the listener.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	AccessLog    bool
}

// Server owns the gin engine and the http.Server serving it.
type Server struct {
	config Config
	engine *gin.Engine
	logger observability.Logger

	mu       sync.Mutex
	server   *http.Server
	addr     net.Addr
	running  atomic.Bool
	serveErr chan error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server. Routes are registered on Engine before Start.
func New(cfg Config, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	s.engine = engine

	return s
}

// Engine returns the gin engine for route registration.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Handler returns the engine wrapped in recovery, request ID and access
// logging, outermost first.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.engine
	if s.config.AccessLog {
		h = middleware.AccessLog(s.logger)(h)
	}
	h = middleware.RequestID()(h)
	h = middleware.Recovery(s.logger)(h)
	return h
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("server is already running on %s", s.addr)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.addr = ln.Addr()
	s.serveErr = make(chan error, 1)
	s.running.Store(true)

	s.logger.Info("server started", observability.String("address", s.addr.String()))

	go s.serve(s.server, ln, s.serveErr)
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, errCh chan<- error) {
	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("server error", observability.Error(err))
		errCh <- err
	}
	close(errCh)
	s.running.Store(false)
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Errors yields a serve failure, if any, and is closed when serving ends.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Stop drains in-flight requests until ctx is done, then closes.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil || !s.running.Load() {
		return nil
	}

	s.logger.Info("stopping server")

	if err := srv.Shutdown(ctx); err != nil {
		if closeErr := srv.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	s.running.Store(false)
	s.logger.Info("server stopped")
	return nil
}
