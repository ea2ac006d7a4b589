package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bobmcallan/strata/internal/common"
	"github.com/bobmcallan/strata/internal/models"
)

// parseJobID parses the numeric id between prefix and suffix, writing a 400
// response on malformed input.
func parseJobID(w http.ResponseWriter, r *http.Request, prefix, suffix string) (uint64, bool) {
	raw := PathParam(r, prefix, suffix)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		WriteError(w, http.StatusBadRequest, "Invalid job id: "+raw)
		return 0, false
	}
	return id, true
}

// handleSubmitBacktest handles POST /backtests. Both fresh submissions and
// dedup hits return 201 with the job's current state.
func (s *Server) handleSubmitBacktest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.BacktestRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid backtest request: "+err.Error())
		return
	}

	result, err := s.app.Backtests.Submit(r.Context(), &req)
	if err != nil {
		s.logger.Error().Err(err).Msg("Backtest submission failed")
		WriteError(w, http.StatusInternalServerError, "Failed to submit backtest")
		return
	}

	WriteJSON(w, http.StatusCreated, result)
}

// handleGetBacktest handles GET /backtests/{id}.
func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id, ok := parseJobID(w, r, "/backtests/", "")
	if !ok {
		return
	}

	resp, err := s.app.Backtests.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Error().Uint64("job_id", id).Err(err).Msg("Job read failed")
		WriteError(w, http.StatusInternalServerError, "Failed to read job")
		return
	}

	WriteJSON(w, http.StatusOK, resp)
}

// handleBacktestChart handles GET /backtests/{id}/chart, rendering the
// latest equity curve of a completed job as a PNG.
func (s *Server) handleBacktestChart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id, ok := parseJobID(w, r, "/backtests/", "/chart")
	if !ok {
		return
	}

	resp, err := s.app.Backtests.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Error().Uint64("job_id", id).Err(err).Msg("Job read failed")
		WriteError(w, http.StatusInternalServerError, "Failed to read job")
		return
	}
	if resp.Job.Status != models.JobStatusCompleted || resp.Result == nil {
		WriteError(w, http.StatusConflict, "Job has not completed, no chart available")
		return
	}

	var curve []models.EquityPoint
	if err := json.Unmarshal(resp.Result.EquityCurve, &curve); err != nil {
		s.logger.Error().Uint64("job_id", id).Err(err).Msg("Equity curve decode failed")
		WriteError(w, http.StatusInternalServerError, "Failed to decode equity curve")
		return
	}

	png, err := RenderEquityChart(resp.Job, curve)
	if err != nil {
		s.logger.Error().Uint64("job_id", id).Err(err).Msg("Chart render failed")
		WriteError(w, http.StatusInternalServerError, "Failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleSubmitSweep handles POST /backtests/sweeps.
func (s *Server) handleSubmitSweep(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.SweepRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid sweep request: "+err.Error())
		return
	}

	resp, err := s.app.Sweeps.Submit(r.Context(), &req)
	if err != nil {
		s.logger.Error().Err(err).Msg("Sweep submission failed")
		WriteError(w, http.StatusInternalServerError, "Failed to submit sweep")
		return
	}

	WriteJSON(w, http.StatusCreated, resp)
}

// handleGetSweep handles GET /backtests/sweeps/{id}.
func (s *Server) handleGetSweep(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id, ok := parseJobID(w, r, "/backtests/sweeps/", "")
	if !ok {
		return
	}

	resp, err := s.app.Sweeps.GetSweep(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Sweep not found")
			return
		}
		s.logger.Error().Uint64("sweep_id", id).Err(err).Msg("Sweep read failed")
		WriteError(w, http.StatusInternalServerError, "Failed to read sweep")
		return
	}

	WriteJSON(w, http.StatusOK, resp)
}

// handleListJobs handles GET /api/jobs, returning recent jobs and the
// current queue depth.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	jobs, err := s.app.Storage.Jobs().ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Job listing failed")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	depth, err := s.app.Storage.Queue().Len()
	if err != nil {
		depth = 0
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":       jobs,
		"queue_size": depth,
	})
}

// handleJobsWS handles GET /api/jobs/ws, upgrading to the event stream.
func (s *Server) handleJobsWS(w http.ResponseWriter, r *http.Request) {
	s.app.JobManager.Hub().ServeWS(w, r)
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	depth, err := s.app.Storage.Queue().Len()
	status := "ok"
	if err != nil {
		status = "degraded"
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"queue_size": depth,
		"clients":    s.app.JobManager.Hub().ClientCount(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
