package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SokratisVidros/eurechat/internal/logger"
)

// Server exposes /metrics and /health over HTTP on a dedicated port.
type Server struct {
	srv *http.Server
}

// NewServer builds the metrics HTTP server. Requires InitRegistry to have
// been called; returns an error otherwise.
func NewServer(bindAddress string, port int) (*Server, error) {
	reg := GetRegistry()
	if reg == nil {
		return nil, fmt.Errorf("metrics registry not initialized")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", bindAddress, port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Start runs the HTTP server until Shutdown. Blocks; run it on its own
// goroutine.
func (s *Server) Start() error {
	logger.Info("metrics server listening", logger.KeyAddress, s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
