package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firestige.xyz/netslave/internal/log"
)

// HealthFunc reports the driver state and whether it is exchanging cycles.
type HealthFunc func() (state string, running bool)

// Server exposes the Prometheus registry and a /healthz endpoint that answers
// 200 only while the driver runs.
type Server struct {
	addr   string
	path   string
	health HealthFunc
	ln     net.Listener
	server *http.Server
}

// NewServer creates a server for addr. health may be nil, in which case
// /healthz is not registered.
func NewServer(addr, path string, health HealthFunc) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{addr: addr, path: path, health: health}
}

// Start binds the listener and serves in the background. Bind errors are
// returned so the daemon fails at startup rather than silently running
// without metrics.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	if s.health != nil {
		mux.HandleFunc("/healthz", s.serveHealth)
	}
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	logger := log.Named("metrics")
	logger.WithField("addr", ln.Addr().String()).WithField("path", s.path).Info("serving metrics")
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	state, running := s.health()
	w.Header().Set("Content-Type", "application/json")
	if !running {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"state":   state,
		"running": running,
	})
}

// Stop shuts the server down, waiting at most 5s for in-flight scrapes.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	log.Named("metrics").Info("metrics server stopped")
	return nil
}
