// Package server exposes the run lifecycle over a local HTTP/JSON API: run
// CRUD, byte-offset long-polling of the per-run event log, SSH deploy-key
// storage, model listings, and a background pull-request worker. The
// execution core never depends on this package; the server is a host that
// wires stores, backends and loops together per run.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/runstore"
)

// activeRun is the in-process state of a run whose worker is still
// executing. It is registered before the worker goroutine starts, so a
// cancel request can never miss the run: cancellation arriving before the
// loop exists is latched and applied as soon as the loop is attached.
type activeRun struct {
	log *runstore.EventLog

	mu        sync.Mutex
	loop      *agentloop.Loop
	cancelled bool
}

func (a *activeRun) abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = true
	if a.loop != nil {
		a.loop.Abort()
	}
}

func (a *activeRun) attachLoop(loop *agentloop.Loop) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loop = loop
	if a.cancelled {
		loop.Abort()
	}
}

// Server is the local run service.
type Server struct {
	cfg    Config
	store  *runstore.Store
	keys   *KeyStore
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

// New creates a Server over the given configuration, opening the run
// registry under cfg.RunsDir.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := runstore.Open(cfg.RunsDir)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		keys:   NewKeyStore(cfg.SSHKeyPath()),
		logger: logger,
		active: make(map[string]*activeRun),
	}, nil
}

// Store returns the underlying run registry.
func (s *Server) Store() *runstore.Store {
	return s.store
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/run", s.handleRunCreate)
	mux.HandleFunc("GET /api/runs", s.handleRunsList)
	mux.HandleFunc("GET /api/run/{id}", s.handleRunMeta)
	mux.HandleFunc("GET /api/run/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /api/run/{id}/cancel", s.handleRunCancel)
	mux.HandleFunc("POST /api/run/{id}/pr", s.handleRunCreatePR)
	mux.HandleFunc("DELETE /api/run/{id}", s.handleRunDelete)
	mux.HandleFunc("GET /api/repos", s.handleReposList)
	mux.HandleFunc("POST /api/repos", s.handleReposAdd)
	mux.HandleFunc("GET /api/ssh-key", s.handleSSHKeyGet)
	mux.HandleFunc("POST /api/ssh-key", s.handleSSHKeySave)
	mux.HandleFunc("DELETE /api/ssh-key", s.handleSSHKeyDelete)
	mux.HandleFunc("GET /api/models", s.handleModels)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully: the
// listener closes, in-flight requests get ShutdownTimeout to finish, and
// every active loop is asked to cancel.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Long-poll responses must outlive LongPollWait.
		WriteTimeout: s.cfg.LongPollWait + 30*time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("run service listening", "addr", s.cfg.Addr)
		err := httpServer.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		s.abortActiveRuns()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := s.store.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *Server) registerActive(id string, run *activeRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = run
}

func (s *Server) lookupActive(id string) *activeRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id]
}

func (s *Server) deregisterActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

func (s *Server) abortActiveRuns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, run := range s.active {
		s.logger.Info("aborting run for shutdown", "run", id)
		run.abort()
	}
}
