// Package server exposes the ingestion and query services over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Guliveer/procsnap/internal/auth"
	"github.com/Guliveer/procsnap/internal/config"
	"github.com/Guliveer/procsnap/internal/ingest"
	"github.com/Guliveer/procsnap/internal/store"
)

// Config holds server configuration
type Config struct {
	Address string

	// Rate limiting configuration
	RateLimit      rate.Limit // requests per second
	RateLimitBurst int        // burst size

	// Request limits
	MaxBodyBytes int64

	// Require X-API-Key on query routes as well as ingest
	ProtectReads bool

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// ConfigFromCollector maps collector configuration onto server settings.
func ConfigFromCollector(c *config.CollectorConfig) *Config {
	return &Config{
		Address:         c.HTTP.Address,
		RateLimit:       rate.Limit(c.HTTP.RateLimit),
		RateLimitBurst:  c.HTTP.RateBurst,
		MaxBodyBytes:    int64(c.HTTP.MaxBodyMB) * 1024 * 1024,
		ProtectReads:    c.Auth.ProtectReads,
		ReadTimeout:     c.HTTP.ReadTimeout.Duration,
		WriteTimeout:    c.HTTP.WriteTimeout.Duration,
		IdleTimeout:     c.HTTP.IdleTimeout.Duration,
		ShutdownTimeout: c.HTTP.ShutdownTimeout.Duration,
	}
}

// Ingester stores an authenticated snapshot payload.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte, key string) (ingest.Result, error)
}

// Querier answers snapshot reads.
type Querier interface {
	Latest(ctx context.Context, hostname string) (*store.Snapshot, error)
	List(ctx context.Context, hostname string, limit int) ([]store.Summary, error)
	Get(ctx context.Context, id string) (*store.Snapshot, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	config      *Config
	httpServer  *http.Server
	rateLimiter *rate.Limiter
	keys        *auth.KeySet
	ingest      Ingester
	query       Querier
	store       Pinger
	mu          sync.RWMutex
	ready       bool
	logger      *zap.Logger
}

// New creates a server serving the given services. st is consulted by the
// readiness probe and may be nil.
func New(cfg *Config, keys *auth.KeySet, in Ingester, q Querier, st Pinger, logger *zap.Logger) *Server {
	s := &Server{
		config:      cfg,
		rateLimiter: rate.NewLimiter(cfg.RateLimit, cfg.RateLimitBurst),
		keys:        keys,
		ingest:      in,
		query:       q,
		store:       st,
		logger:      logger,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRoutes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// SetReady marks the server as ready to serve traffic
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting server", zap.String("address", ln.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	s.SetReady(true)

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		s.SetReady(false)
		if !ok {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server", zap.Duration("timeout", s.config.ShutdownTimeout))
	return s.httpServer.Shutdown(shutdownCtx)
}
