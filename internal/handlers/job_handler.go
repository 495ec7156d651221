package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/SOWA-EQR/ai-document-processor/internal/interfaces"
	"github.com/SOWA-EQR/ai-document-processor/internal/pipeline"
)

// JobHandler serves job and result lookups
type JobHandler struct {
	orchestrator *pipeline.Orchestrator
	results      interfaces.ResultStorage
	logger       arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(orchestrator *pipeline.Orchestrator, results interfaces.ResultStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		orchestrator: orchestrator,
		results:      results,
		logger:       logger,
	}
}

// ListJobsHandler handles GET /api/jobs, newest first.
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobs := h.orchestrator.ListJobs()
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHandler handles GET /api/jobs/{id}. Live jobs come from the
// orchestrator; jobs that aged out of the in-memory registry fall back to
// the stored result.
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	if job, ok := h.orchestrator.GetJob(jobID); ok {
		WriteJSON(w, http.StatusOK, job)
		return
	}

	result, err := h.results.GetResult(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrResultNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job result")
		WriteError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":     result.JobID,
		"state":  result.State,
		"result": result,
	})
}

// ListResultsHandler handles GET /api/results?limit=N, newest first.
func (h *JobHandler) ListResultsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	results, err := h.results.ListResults(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list results")
		WriteError(w, http.StatusInternalServerError, "Failed to list results")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// GetResultHandler handles GET /api/results/{job_id}.
func (h *JobHandler) GetResultHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/results/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	result, err := h.results.GetResult(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrResultNotFound) {
			WriteError(w, http.StatusNotFound, "Result not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get result")
		WriteError(w, http.StatusInternalServerError, "Failed to get result")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
