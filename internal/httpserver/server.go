// Package httpserver manages listener lifecycle for the gateway and backend
// binaries: bind, serve in the background, and shut down gracefully.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// Config describes one listener.
type Config struct {
	Name         string
	Address      string
	Handler      http.Handler
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Logger       *slog.Logger
}

// Server is a started HTTP listener.
type Server struct {
	name   string
	srv    *http.Server
	ln     net.Listener
	errCh  chan error
	logger *slog.Logger
}

// Start binds the address and serves in a background goroutine. Binding
// errors are returned synchronously; later serve errors arrive on Errors.
func Start(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("%s server: handler is required", cfg.Name)
	}

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%s server: failed to bind %s: %w", cfg.Name, cfg.Address, err)
	}

	s := &Server{
		name: cfg.Name,
		srv: &http.Server{
			Handler:           cfg.Handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		ln:     ln,
		errCh:  make(chan error, 1),
		logger: cfg.Logger,
	}

	// Log the resolved address, which differs from cfg.Address for ":0".
	s.logger.Info("Server listening", "server", s.name, "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- fmt.Errorf("%s server: %w", s.name, err)
		}
		close(s.errCh)
	}()

	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Errors reports a fatal serve error, then closes.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Run blocks until ctx is done or any server fails, then shuts every server
// down within DefaultShutdownTimeout. It returns the first serve error.
func Run(ctx context.Context, logger *slog.Logger, servers ...*Server) error {
	if logger == nil {
		logger = slog.Default()
	}

	failed := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *Server) {
			if err, ok := <-s.Errors(); ok {
				failed <- err
			}
		}(s)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down", "cause", context.Cause(ctx))
	case runErr = <-failed:
		logger.Error("Server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", "server", s.name, "error", err)
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}
