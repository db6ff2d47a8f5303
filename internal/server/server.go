// Package server exposes DDP engines over WebSocket together with the
// health, state and metrics endpoints of a ddpx process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/ddpx/internal/config"
	"github.com/gaspardpetit/ddpx/internal/ddp"
	"github.com/gaspardpetit/ddpx/internal/inflight"
	"github.com/gaspardpetit/ddpx/internal/logx"
	"github.com/gaspardpetit/ddpx/internal/metrics"
	"github.com/gaspardpetit/ddpx/internal/serverstate"
	"github.com/gaspardpetit/ddpx/internal/sessions"
)

// EngineSetup customizes the engine of a new connection before the first
// frame is read, typically by registering connection scoped methods.
type EngineSetup func(e *ddp.Engine) error

// Options wires the collaborators of a Server. Zero fields get defaults.
type Options struct {
	Config   config.ServerConfig
	Registry *ddp.Registry
	Setup    EngineSetup
	Sessions sessions.Store
	State    *serverstate.Tracker
	Inflight *inflight.Counter
	Hooks    []ddp.DispatchHook
	// Subscriptions returns the subscription manager of a connection.
	Subscriptions func(connID string) ddp.Subscriptions
	// Prometheus is the registry served on /metrics.
	Prometheus *prometheus.Registry
}

// Server routes HTTP requests.
type Server struct {
	opts   Options
	router chi.Router

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// New builds the HTTP handler and marks the state tracker ready.
func New(opts Options) *Server {
	cfg := &opts.Config
	cfg.SetDefaults()
	if opts.Registry == nil {
		opts.Registry = ddp.NewRegistry()
	}
	if opts.Sessions == nil {
		opts.Sessions = sessions.NewMemoryStore(cfg.SessionTTL)
	}
	if opts.State == nil {
		opts.State = serverstate.NewTracker()
	}
	if opts.Inflight == nil {
		opts.Inflight = &inflight.Counter{}
	}
	if opts.Prometheus == nil {
		opts.Prometheus = prometheus.NewRegistry()
	}
	metrics.Register(opts.Prometheus)

	s := &Server{opts: opts, conns: make(map[*conn]struct{})}
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range MiddlewareChain() {
		r.Use(m)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/state", s.handleState)
	r.Get("/api/sessions/{id}", s.handleGetSession)
	r.Delete("/api/sessions/{id}", s.handleRemoveSession)
	r.Get("/state", StatusHandler())
	r.With(opts.Inflight.Middleware()).Get(cfg.WSPath, s.handleWS)

	if cfg.MetricsAddr == fmt.Sprintf(":%d", cfg.Port) {
		r.Handle("/metrics", MetricsHandler(opts.Prometheus))
	}

	s.router = r
	opts.State.SetStatus(serverstate.StatusReady)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// MetricsHandler serves the collectors of reg.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	serverstate.State
	Connections int64 `json:"connections"`
	Sessions    int   `json:"sessions"`
}

// Snapshot reports the current server state.
func (s *Server) Snapshot(ctx context.Context) (StateResponse, error) {
	n, err := s.opts.Sessions.Count(ctx)
	if err != nil {
		return StateResponse{}, err
	}
	return StateResponse{
		State:       s.opts.State.Load(),
		Connections: s.opts.Inflight.Load(),
		Sessions:    n,
	}, nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Snapshot(r.Context())
	if err != nil {
		logx.Log.Error().Err(err).Msg("count sessions")
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logx.Log.Error().Err(err).Msg("write state")
	}
}

// handleGetSession returns the stored record of one session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.opts.Sessions.Get(r.Context(), id)
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
		return
	case err != nil:
		logx.Log.Error().Err(err).Str("session", id).Msg("get session")
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		logx.Log.Error().Err(err).Msg("write session")
	}
}

// handleRemoveSession forgets a session so a later resume counts as unknown.
func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.opts.Sessions.Remove(r.Context(), id); err != nil {
		logx.Log.Error().Err(err).Str("session", id).Msg("remove session")
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}
	logx.Log.Info().Str("session", id).Msg("session removed")
	w.WriteHeader(http.StatusNoContent)
}

// originPatterns converts allowed CORS origins into host patterns for the
// websocket origin check.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			out = append(out, o)
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
