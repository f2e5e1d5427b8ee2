// Package server exposes the device authorization over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/florianilch/copilot-auth/internal/deviceflow"
)

// Sessions starts device authorizations and reports on them.
type Sessions interface {
	Begin(ctx context.Context) (deviceflow.Session, error)
	Session(id string) (deviceflow.Session, bool)
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit bounds how often GET /github may start a new authorization.
func WithRateLimit(interval time.Duration, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Every(interval), burst)
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithInitiationObserver is called with the outcome of every started authorization.
func WithInitiationObserver(fn func(error)) Option {
	return func(s *Server) {
		s.onInitiation = fn
	}
}

// WithRateLimitObserver is called for every request rejected by the rate limiter.
func WithRateLimitObserver(fn func()) Option {
	return func(s *Server) {
		s.onRateLimited = fn
	}
}

// WithStatusPollInterval sets how often the authorization page refreshes its status.
// Non-positive values keep the default.
func WithStatusPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.statusPoll = d
		}
	}
}

// Server serves the authorization page and session status.
type Server struct {
	sessions      Sessions
	limiter       *rate.Limiter
	metrics       http.Handler
	onInitiation  func(error)
	onRateLimited func()
	statusPoll    time.Duration

	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates a Server backed by sessions.
func New(sessions Sessions, opts ...Option) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("missing session manager")
	}

	s := &Server{
		sessions:   sessions,
		statusPoll: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger := slog.Default()
	common := []func(http.Handler) http.Handler{
		TraceContext,
		Logging(logger),
		Recovery,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /github", applyMiddlewares(http.HandlerFunc(s.handleAuthorize), append(common, s.rateLimit)...))
	mux.Handle("GET /github/status/{id}", applyMiddlewares(http.HandlerFunc(s.handleStatus), common...))
	if s.metrics != nil {
		// Scrapes are not request-logged.
		mux.Handle("GET /metrics", applyMiddlewares(s.metrics, Recovery))
	}
	s.mux = mux

	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Covers the device code request and its retries.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
