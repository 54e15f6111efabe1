// Package handlers exposes the reconciliation service over HTTP: run
// enqueueing and job status.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/payout-reconciler/internal/api/middleware"
	"github.com/dvloznov/payout-reconciler/internal/jobs"
	"github.com/dvloznov/payout-reconciler/internal/processor"
)

// RunsHandler handles reconciliation run endpoints.
type RunsHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(publisher jobs.Publisher, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		publisher: publisher,
		log:       log,
	}
}

// EnqueueRun handles POST /api/runs. The body carries the optional
// date window; the run itself executes asynchronously on the worker.
func (h *RunsHandler) EnqueueRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.StartDate != "" {
		if _, err := processor.ParseTimeBound(req.StartDate); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date")
			return
		}
	}
	if req.EndDate != "" {
		if _, err := processor.ParseTimeBound(req.EndDate); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date")
			return
		}
	}

	ctx := r.Context()

	job := &jobs.ReconcileJob{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	}

	if err := h.publisher.PublishReconcile(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue reconciliation job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue reconciliation job")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("start_date", req.StartDate).
		Str("end_date", req.EndDate).
		Msg("Reconciliation job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
