package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/common"
	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/queue"
)

// JobHandler exposes the job queue over HTTP so external workers can
// participate in the claim protocol.
type JobHandler struct {
	queue      *queue.JobQueue
	jobStorage interfaces.JobStorage
	cleanup    common.CleanupConfig
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobQueue *queue.JobQueue, jobStorage interfaces.JobStorage, cleanup common.CleanupConfig, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		queue:      jobQueue,
		jobStorage: jobStorage,
		cleanup:    cleanup,
		logger:     logger,
	}
}

// DequeueRequest is the body for POST /api/jobs/dequeue
type DequeueRequest struct {
	WorkerID string   `json:"worker_id"`
	JobTypes []string `json:"job_types,omitempty"`
	MaxJobs  int      `json:"max_jobs,omitempty"`
}

// DequeueHandler handles POST /api/jobs/dequeue. Claimed jobs are returned
// already transitioned to running with lock fields set.
func (h *JobHandler) DequeueHandler(w http.ResponseWriter, r *http.Request) {
	var req DequeueRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.WorkerID == "" {
		req.WorkerID = common.NewWorkerID()
	}
	if req.MaxJobs <= 0 {
		req.MaxJobs = 1
	}

	jobTypes := make([]models.JobType, 0, len(req.JobTypes))
	for _, t := range req.JobTypes {
		jobTypes = append(jobTypes, models.JobType(t))
	}

	jobs, err := h.queue.Dequeue(r.Context(), req.WorkerID, jobTypes, req.MaxJobs)
	if err != nil {
		h.logger.Error().Err(err).Str("worker_id", req.WorkerID).Msg("Dequeue failed")
		WriteError(w, http.StatusInternalServerError, "Dequeue failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":      jobs,
		"count":     len(jobs),
		"worker_id": req.WorkerID,
	})
}

// CompleteRequest is the body for POST /api/jobs/complete
type CompleteRequest struct {
	JobID      uuid.UUID              `json:"job_id"`
	Success    bool                   `json:"success"`
	ResultData map[string]interface{} `json:"result_data,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// CompleteHandler handles POST /api/jobs/complete
func (h *JobHandler) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.JobID == uuid.Nil {
		WriteError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	result, err := h.queue.Complete(r.Context(), req.JobID, req.Success, req.ResultData, req.Error)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", req.JobID.String()).Msg("Job completion rejected")
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// ListJobsHandler handles GET /api/jobs?campaign_id={id}
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	campaignIDStr := r.URL.Query().Get("campaign_id")
	if campaignIDStr == "" {
		WriteError(w, http.StatusBadRequest, "campaign_id query parameter is required")
		return
	}

	campaignID, err := uuid.Parse(campaignIDStr)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid campaign_id")
		return
	}

	jobs, err := h.jobStorage.ListJobs(r.Context(), campaignID)
	if err != nil {
		h.logger.Error().Err(err).Str("campaign_id", campaignIDStr).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CleanupHandler handles POST /api/jobs/cleanup, removing completed jobs
// older than the configured retention window.
func (h *JobHandler) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.queue.Cleanup(r.Context(), h.cleanup.RetentionDays, h.cleanup.BatchSize)
	if err != nil {
		h.logger.Error().Err(err).Msg("Job cleanup failed")
		WriteError(w, http.StatusInternalServerError, "Job cleanup failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"deleted": deleted,
	})
}
