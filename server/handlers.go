package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/job"
	"github.com/quenby/chime/runner"
	"github.com/quenby/chime/schedule"
)

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	defs, err := s.jobs.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if defs == nil {
		defs = []*job.Definition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

// createJobRequest is the POST /api/jobs body.
type createJobRequest struct {
	Name        string             `json:"name"`
	CommandType string             `json:"command_type"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
	Recipient   string             `json:"recipient,omitempty"`
	Schedule    *schedule.Schedule `json:"schedule,omitempty"`
	Enabled     bool               `json:"enabled"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.CommandType == "" {
		writeError(w, http.StatusBadRequest, "command_type is required")
		return
	}
	if req.Schedule != nil {
		if err := req.Schedule.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	def := &job.Definition{
		Name:        req.Name,
		CommandType: req.CommandType,
		Payload:     req.Payload,
		Recipient:   req.Recipient,
		Schedule:    req.Schedule,
		Enabled:     req.Enabled,
	}
	if err := s.jobs.Create(r.Context(), def); err != nil {
		writeStoreError(w, err)
		return
	}
	if def.Enabled {
		s.engine.JobEnabled(def.ID)
	}
	s.log.Infow("Job created",
		"job_id", def.ID,
		"name", def.Name,
		"command_type", def.CommandType,
		"enabled", def.Enabled,
	)
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	def, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if def.Deleted {
		writeStoreError(w, errors.NewNotFoundError("job %s", id))
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.jobs.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.engine.JobDeleted(id)
	s.log.Infow("Job deleted", "job_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleEnableJob(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Server) handleDisableJob(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.jobs.SetEnabled(r.Context(), id, enabled); err != nil {
		writeStoreError(w, err)
		return
	}
	if enabled {
		s.engine.JobEnabled(id)
	} else {
		s.engine.JobDisabled(id)
	}
	s.log.Infow("Job toggled", "job_id", id, "enabled", enabled)
	writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": enabled})
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var sched schedule.Schedule
	if !readJSON(w, r, &sched) {
		return
	}
	if err := sched.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.jobs.SetSchedule(r.Context(), id, &sched); err != nil {
		writeStoreError(w, err)
		return
	}
	s.engine.ScheduleChanged(id)
	s.log.Infow("Job schedule replaced", "job_id", id, "kind", sched.Kind)
	writeJSON(w, http.StatusOK, &sched)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	execs, err := s.executions.ListByJob(r.Context(), id, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if execs == nil {
		execs = []*job.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Running())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", "queued", "running", "completed", "failed":
	default:
		writeError(w, http.StatusBadRequest, "unknown run status: "+status)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := s.queue.List(r.Context(), status, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []*runner.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// statsResponse aggregates scheduler and queue counters.
type statsResponse struct {
	Engine interface{} `json:"engine"`
	Queue  interface{} `json:"queue"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	queueStats, err := s.queue.GetStats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Engine: s.engine.Stats(),
		Queue:  queueStats,
	})
}
