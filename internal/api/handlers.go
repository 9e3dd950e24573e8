package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deixis/overseer"
	"github.com/deixis/overseer/internal/command"
	"github.com/deixis/overseer/internal/config"
	"github.com/deixis/overseer/internal/logsink"
	"github.com/deixis/overseer/internal/report"
	"github.com/deixis/overseer/internal/runner"
	"github.com/deixis/overseer/internal/workflow"
)

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		Version:       overseer.Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		ActiveRuns:    len(s.runSlots),
	})
}

// handleCommands handles GET /commands
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CommandsResponse{
		Commands:  s.engine.Config.CommandNames(),
		Pipelines: s.engine.PipelineNames(),
	})
}

// handleRun handles POST /runs
// Runs an ad hoc argv or a configured command and waits for it to finish.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if (len(req.Argv) == 0) == (req.Command == "") {
		s.writeError(w, http.StatusBadRequest, "exactly one of argv and command is required")
		return
	}
	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid timeout %q", req.Timeout))
			return
		}
		timeout = d
	}

	if !s.acquire(r.Context()) {
		s.writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for a run slot")
		return
	}
	defer s.release()

	var (
		run *report.Run
		err error
	)
	if req.Command != "" {
		run, _, err = s.engine.Command(req.Command, timeout)
	} else {
		spec := command.FromArgv(req.Argv)
		spec.Dir = req.Dir
		run, _, err = s.engine.Exec("", spec, timeout)
	}

	var unknown workflow.ErrUnknownCommand
	switch {
	case errors.As(err, &unknown):
		s.writeError(w, http.StatusNotFound, unknown.Error())
		return
	case errors.Is(err, runner.ErrInvalidCommand), errors.Is(err, runner.ErrSpawnFailure):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case run == nil:
		s.logger.Error().Err(err).Msg("run failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, RunResponse{Run: run, Success: run.Status == report.Pass})
}

// handlePipeline handles POST /pipelines/{pipeline}
func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "pipeline")

	if !s.acquire(r.Context()) {
		s.writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for a run slot")
		return
	}
	defer s.release()

	res, err := s.engine.Pipeline(r.Context(), name)
	if errors.Is(err, config.ErrUnknownCommand) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if res == nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, RunResponse{Run: res.Run, Success: res.Run.Status == report.Pass})
}

// handleGetRun handles GET /runs/{runID}
// With step, severity or contains query parameters only the matching
// transcript lines are returned.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	q := report.Query{
		Step:     r.URL.Query().Get("step"),
		Contains: r.URL.Query().Get("contains"),
	}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		sev, err := logsink.ParseSeverity(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Severity = &sev
	}

	run, err := s.engine.Inspect(runID)
	switch {
	case errors.Is(err, report.ErrNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("run not found: %s", runID))
		return
	case err != nil:
		s.logger.Error().Err(err).Str("run_id", runID).Msg("failed to load run")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if q.Step == "" && q.Severity == nil && q.Contains == "" {
		respondJSON(w, http.StatusOK, RunResponse{Run: run, Success: run.Status == report.Pass})
		return
	}
	entries := report.Filter(run, q)
	if entries == nil {
		entries = []report.Entry{}
	}
	respondJSON(w, http.StatusOK, EntriesResponse{RunID: run.ID, Entries: entries})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
