// Package server exposes the Chime HTTP API: job CRUD, execution history,
// run inspection, and a WebSocket feed of scheduler events.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quenby/chime/engine"
	"github.com/quenby/chime/job"
	"github.com/quenby/chime/runner"
)

// Server is the Chime API server.
type Server struct {
	jobs       *job.Store
	executions *job.ExecutionStore
	queue      *runner.Queue
	engine     *engine.Engine
	log        *zap.SugaredLogger

	httpServer *http.Server
	hub        *Hub
}

// NewServer wires the API over the given stores and engine.
func NewServer(port int, jobs *job.Store, executions *job.ExecutionStore, queue *runner.Queue, eng *engine.Engine, log *zap.SugaredLogger) *Server {
	s := &Server{
		jobs:       jobs,
		executions: executions,
		queue:      queue,
		engine:     eng,
		log:        log,
		hub:        NewHub(eng.Events(), log),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleDeleteJob)
	mux.HandleFunc("POST /api/jobs/{id}/enable", s.handleEnableJob)
	mux.HandleFunc("POST /api/jobs/{id}/disable", s.handleDisableJob)
	mux.HandleFunc("PUT /api/jobs/{id}/schedule", s.handleSetSchedule)
	mux.HandleFunc("GET /api/jobs/{id}/executions", s.handleListExecutions)

	mux.HandleFunc("GET /api/running", s.handleRunning)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
}

// Start launches the event hub and the HTTP listener.
func (s *Server) Start() {
	s.hub.Start()
	go func() {
		s.log.Infow("API server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("API server failed", "error", err)
		}
	}()
}

// Stop drains connections and shuts the hub down.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Stop()
	s.log.Infow("API server stopped")
	return err
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
