// Package server exposes the hub over HTTP.
//
// Besides the task API it implements zero-downtime deployments with:
//   - Kubernetes-style health probes (liveness, readiness, startup)
//   - Graceful shutdown with connection draining
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/taskhub/internal/engine"
	"github.com/felixgeelhaar/taskhub/internal/errors"
	"github.com/felixgeelhaar/taskhub/internal/health"
	"github.com/felixgeelhaar/taskhub/internal/lifecycle"
	"github.com/felixgeelhaar/taskhub/internal/log"
	"github.com/felixgeelhaar/taskhub/internal/router"
	"github.com/felixgeelhaar/taskhub/internal/store"
)

// Config holds server configuration.
type Config struct {
	// Address is the listen address (e.g., ":8080").
	Address string

	// ShutdownTimeout caps connection draining during shutdown.
	// Defaults to 30 seconds.
	ShutdownTimeout time.Duration

	// ReadTimeout is the maximum duration for reading a request.
	// Defaults to 10 seconds.
	ReadTimeout time.Duration

	// WriteTimeout caps response writes. Sync polls hold the connection,
	// so this defaults to 60 seconds.
	WriteTimeout time.Duration

	// IdleTimeout is the keep-alive idle limit. Defaults to 120 seconds.
	IdleTimeout time.Duration

	// SyncTimeout is how long a sync poll waits for a broadcast before
	// returning empty. Defaults to 25 seconds.
	SyncTimeout time.Duration
}

// Server wires the hub's HTTP surface.
type Server struct {
	engine     *engine.Engine
	lifecycle  *lifecycle.Manager
	queue      *engine.Queue
	processors *router.Registry
	store      *store.Collections
	probes     *health.ProbeManager
	logger     *log.Logger

	httpServer      *http.Server
	inShutdown      atomic.Bool
	shutdownTimeout time.Duration
	syncTimeout     time.Duration
}

// New creates the hub server.
func New(eng *engine.Engine, lc *lifecycle.Manager, queue *engine.Queue, procs *router.Registry, st *store.Collections, probes *health.ProbeManager, logger *log.Logger, cfg Config) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.SyncTimeout == 0 {
		cfg.SyncTimeout = 25 * time.Second
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}

	s := &Server{
		engine:          eng,
		lifecycle:       lc,
		queue:           queue,
		processors:      procs,
		store:           st,
		probes:          probes,
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
		syncTimeout:     cfg.SyncTimeout,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/task", s.handleTask)
	mux.HandleFunc("POST /api/task/start", s.handleStart)
	mux.HandleFunc("GET /api/task/sync", s.handleSync)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/processor/register", s.handleRegister)
	mux.HandleFunc("POST /api/processor/deregister", s.handleDeregister)

	mux.HandleFunc("GET /health/live", s.handleLiveness)
	mux.HandleFunc("GET /health/ready", s.handleReadiness)
	mux.HandleFunc("GET /health/startup", s.handleStartup)
	mux.HandleFunc("GET /healthz", s.handleReadiness)

	return mux
}

// Start runs the server. It blocks until the listener stops and returns
// http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	if s.probes != nil {
		s.probes.MarkInitialized()
	}
	s.logger.Info("hub listening", "address", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections gracefully: readiness starts failing
// first so the pod leaves service endpoints before the listener closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	if s.probes != nil {
		s.probes.MarkShutdown()
	}
	s.httpServer.SetKeepAlivesEnabled(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// IsShuttingDown reports whether shutdown started.
func (s *Server) IsShuttingDown() bool {
	return s.inShutdown.Load()
}

// writeJSON writes v with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("response encode failed")
	}
}

// errorBody is the wire form of a failed request.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps a hub error onto its HTTP status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	s.writeJSON(w, errors.HTTPStatus(code), body)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeProbe(w, s.probes.CheckLiveness(r.Context()), http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.writeProbe(w, s.probes.CheckReadiness(r.Context()), http.StatusServiceUnavailable)
}

func (s *Server) handleStartup(w http.ResponseWriter, r *http.Request) {
	s.writeProbe(w, s.probes.CheckStartup(r.Context()), http.StatusServiceUnavailable)
}

func (s *Server) writeProbe(w http.ResponseWriter, result *health.ProbeResult, unhealthyStatus int) {
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = unhealthyStatus
	}
	s.writeJSON(w, status, result)
}
