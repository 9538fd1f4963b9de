// Package httpserve runs an http.Handler on a port that can be released and re-bound at runtime.
package httpserve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/groutine"
)

// ShutdownTimeout bounds how long Stop waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// ErrInvalidPort is returned for ports outside 0..65535.
var ErrInvalidPort = errors.New("invalid port")

// Server binds synchronously in Start so callers learn about busy ports immediately.
type Server struct {
	name    string
	host    string
	port    int
	handler http.Handler
	logger  *logrus.Logger

	mu     sync.Mutex
	srv    *http.Server
	addr   net.Addr
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped server. Port 0 picks a free port.
func New(name, host string, port int, handler http.Handler, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{name: name, host: host, port: port, handler: handler, logger: logger}
}

// Start binds the port and serves in the background.
// Request contexts derive from a server-owned context that Stop cancels.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}
	if s.port < 0 || s.port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, s.port)
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s to %s: %w", s.name, addr, err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}
	done := make(chan struct{})

	s.srv = srv
	s.addr = ln.Addr()
	s.cancel = cancel
	s.done = done

	groutine.Go(baseCtx, s.name+"-serve", func(context.Context) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithFields(logrus.Fields{
				"server": s.name,
				"error":  err,
			}).Error("Server stopped unexpectedly")
		}
	})

	s.logger.WithFields(logrus.Fields{
		"server": s.name,
		"addr":   s.addr.String(),
	}).Info("Server listening")
	return nil
}

// Addr returns the bound address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Port returns the bound port, or the configured one when stopped.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tcp, ok := s.addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return s.port
}

// Running reports whether the server holds its port.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Stop shuts the server down and releases the port. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel, done := s.srv, s.cancel, s.done
	s.srv, s.addr, s.cancel, s.done = nil, nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer shutdownCancel()

	// Cancel request contexts first so long-lived handlers return and Shutdown can finish.
	cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		_ = srv.Close()
	}
	<-done

	s.logger.WithField("server", s.name).Info("Server stopped")
	if err != nil {
		return fmt.Errorf("failed to shut down %s: %w", s.name, err)
	}
	return nil
}
