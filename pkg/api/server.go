// Package api exposes a relay process for monitoring: Prometheus metrics and a
// small JSON API describing relay and ring buffer state.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ssargent/ringrelay/pkg/ringbuf"
)

// Server is the monitoring HTTP server.
type Server struct {
	config  ServerConfig
	metrics *Metrics
	stats   StatsProvider
	logger  *slog.Logger
	router  chi.Router
}

// NewServer builds the router. stats may be nil.
func NewServer(config ServerConfig, metrics *Metrics, stats StatsProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:  config,
		metrics: metrics,
		stats:   stats,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	// Prometheus metrics endpoint (unprotected for scraping)
	r.Handle("/metrics", s.refreshRings(metrics.Handler()))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware(config.APIKey))
		r.Get("/health", metrics.InstrumentHandler("GET", "/api/v1/health", s.handleHealth))
		r.Get("/stats", metrics.InstrumentHandler("GET", "/api/v1/stats", s.handleStats))
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Bind, strconv.Itoa(s.config.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("monitoring server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("monitoring server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.stats != nil {
		resp.Relays = len(s.stats.Snapshots())
	}
	sendSuccess(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		sendError(w, "no relays registered", http.StatusServiceUnavailable)
		return
	}

	rings := s.updateRings()
	sendSuccess(w, StatsResponse{
		Relays: s.stats.Snapshots(),
		Rings:  rings,
	})
}

// refreshRings brings the ring occupancy gauges up to date before a scrape.
func (s *Server) refreshRings(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.stats != nil {
			s.updateRings()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) updateRings() []ringbuf.Stats {
	rings := s.stats.Rings()
	for _, rs := range rings {
		s.metrics.UpdateRing(rs)
	}
	return rings
}
