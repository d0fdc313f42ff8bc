package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xcord/hub/pkg/events"
	"github.com/xcord/hub/pkg/federation"
	"github.com/xcord/hub/pkg/health"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/metrics"
	"github.com/xcord/hub/pkg/queue"
	"github.com/xcord/hub/pkg/storage"
)

// Deps are the collaborators the ops server reads from. Everything here
// is owned elsewhere; the server only serializes.
type Deps struct {
	Store      storage.Store
	Queue      *queue.Queue
	Broker     *events.Broker
	Recorder   *events.Recorder
	Readiness  *health.Registry
	Federation *federation.Service
	Version    string
}

// Server is the hub's HTTP surface: liveness, readiness, metrics, the
// read-only ops endpoints, and the federation call-home routes.
type Server struct {
	deps   Deps
	router chi.Router
	http   *http.Server
}

// New assembles the router. Call Start to begin serving.
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.instrument)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/instances", s.handleListInstances)
		r.Get("/instances/{id}", s.handleGetInstance)
		r.Get("/instances/{id}/events", s.handleInstanceEvents)
		r.Get("/queue", s.handleQueueStats)
		r.Get("/events", s.handleRecentEvents)
		r.Get("/events/stream", s.handleEventStream)
		r.Post("/federation/exchange", s.handleExchange)
		r.Post("/federation/validate", s.handleValidate)
		r.Post("/federation/revoke", s.handleRevoke)
	})

	s.router = r
	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// No WriteTimeout: /api/v1/events/stream holds its connection
		// open indefinitely.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listen address and serves in the background. The
// bind happens synchronously so a taken port fails boot instead of
// surfacing minutes later.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.http.Addr, err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger := log.WithComponent("api")
			logger.Error().Err(err).Msg("ops server failed")
		}
	}()

	logger := log.WithComponent("api")
	logger.Info().Str("addr", s.http.Addr).Msg("ops API listening")
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// instrument records the request counter, latency histogram, and a
// debug log line for every request.
func (s *Server) instrument(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, errorResponse{Error: msg})
}
