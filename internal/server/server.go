package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/logger"
)

// Server wraps http.Server with graceful drain and ordered teardown of the
// background services that live and die with the listener.
type Server struct {
	log  *slog.Logger
	http *http.Server
	ln   net.Listener
	stop []func()
}

// New builds the server around the API handler. Port 0 binds an ephemeral
// port, which Addr reports after Listen.
func New(handler http.Handler, port int) *Server {
	return &Server{
		log: logger.WithComponent("server"),
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			IdleTimeout:       120 * time.Second,
			// No WriteTimeout: position exports for large graphs need
			// however long they need, and stream connections are hijacked
			// out of the server's control anyway.
		},
	}
}

// OnShutdown registers cleanup to run after the listener has drained.
// Cleanups run in reverse registration order, like defers.
func (s *Server) OnShutdown(fn func()) {
	s.stop = append(s.stop, fn)
}

// Listen binds the address without serving yet. Run calls it implicitly,
// but calling it first surfaces bind errors early and fixes the port.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	s.ln = ln
	return nil
}

// Addr reports the bound address once Listen has run.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.http.Addr
	}
	return s.ln.Addr().String()
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// the grace period and runs the registered cleanups.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.Addr())
		if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		// The listener died on its own; cleanups still run so background
		// services never outlive the server.
		s.teardown()
		return err
	case <-ctx.Done():
	}

	s.log.Info("draining connections", "grace", grace.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	<-errCh

	s.teardown()
	if err != nil {
		return fmt.Errorf("graceful shutdown incomplete: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Server) teardown() {
	for i := len(s.stop) - 1; i >= 0; i-- {
		s.stop[i]()
	}
}
