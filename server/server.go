// Package server is the HTTP front end of the relay.
//
//	POST /transfers      one transfer or {"transfers":[...]}, runs a batch
//	GET  /batches/:id    live progress, or the stored result once finished
//	GET  /healthz        liveness
//	GET  /readyz         chain endpoint health
//	GET  /metrics        Prometheus metrics
//
// Request bodies carry secret keys. They are never logged, and error
// responses never echo any part of the body.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solrelay/transfer-relay/logging"
	"github.com/solrelay/transfer-relay/observability"
	"github.com/solrelay/transfer-relay/relay"
)

const (
	// GracefulShutdownTimeout bounds how long Start waits for in-flight
	// batches once its context ends.
	GracefulShutdownTimeout = 30 * time.Second

	defaultMaxBatchSize = 100
	defaultMaxBodyBytes = 1 << 20
	readyCheckTimeout   = 5 * time.Second
)

// Config configures the HTTP server.
type Config struct {
	Addr         string
	MaxBatchSize int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Runner runs a batch. *relay.Relay implements it.
type Runner interface {
	Run(ctx context.Context, jobs []relay.TransferJob) *relay.Result
	Tracker() *relay.Tracker
}

// HealthChecker reports whether the chain endpoint is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// BatchStore loads finished batch results by id. Unknown ids fail with an
// error wrapping journal.ErrBatchNotFound.
type BatchStore interface {
	LoadBatch(ctx context.Context, batchID string) ([]byte, error)
}

// Option configures optional collaborators of a Server.
type Option func(*Server)

// WithBatchStore answers GET /batches/:id from store once the tracker has
// forgotten a batch.
func WithBatchStore(store BatchStore) Option {
	return func(s *Server) {
		s.store = store
	}
}

// Server serves the HTTP front end.
type Server struct {
	logger logging.Logger
	config Config
	runner Runner
	health HealthChecker
	store  BatchStore
	engine *gin.Engine

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	wg     sync.WaitGroup
}

// New creates a Server.
func New(logger logging.Logger, config Config, runner Runner, health HealthChecker, opts ...Option) *Server {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = defaultMaxBatchSize
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		logger: logging.ForComponent(logger, logging.ComponentHTTPServer),
		config: config,
		runner: runner,
		health: health,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(s.recoveryMiddleware(), s.requestLogMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.POST("/transfers", s.handleTransfers)
	s.engine.GET("/batches/:id", s.handleGetBatch)
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/readyz", s.handleReadyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(observability.Gatherer(), promhttp.HandlerOpts{})))
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until ctx ends, then
// shuts down gracefully. It returns once the listener is open.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Str(logging.FieldListenAddr, ln.Addr().String()).Msg("starting HTTP server")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), GracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("error during server shutdown")
		}
	}()

	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Wait blocks until the server has shut down.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logging.PanicRecoveriesTotal.WithLabelValues(logging.ComponentHTTPServer).Inc()
		s.logger.Error().
			Str(logging.FieldPath, c.FullPath()).
			Str("panic_value", fmt.Sprintf("%v", recovered)).
			Msg("recovered panic in handler")
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	})
}

// requestLogMiddleware logs method, route and status. Bodies are never logged.
func (s *Server) requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		observeRequest(route, status, start)

		s.logger.Debug().
			Str(logging.FieldMethod, c.Request.Method).
			Str(logging.FieldPath, route).
			Int(logging.FieldStatusCode, status).
			Str(logging.FieldRemoteAddr, c.ClientIP()).
			Dur(logging.FieldLatency, time.Since(start)).
			Msg("request served")
	}
}
