// -----------------------------------------------------------------------
// Job Queue - durable dispatch, retry bookkeeping and retention cleanup
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/phases"
)

// CompletionChecker triggers a campaign completion check after a pipeline job
// finishes. Implemented by the phase state machine.
type CompletionChecker interface {
	CheckCompletion(ctx context.Context, campaignID uuid.UUID) (*phases.CompletionStatus, error)
}

// JobQueue exposes the queue operations over job storage: claim-based
// dequeue, terminal completion with retry scheduling, and retention cleanup.
type JobQueue struct {
	jobs         interfaces.JobStorage
	events       interfaces.EventService
	completion   CompletionChecker
	logger       arbor.ILogger
	serverID     string
	retryBackoff time.Duration
}

// NewJobQueue creates a job queue bound to this server instance
func NewJobQueue(jobs interfaces.JobStorage, events interfaces.EventService, completion CompletionChecker, serverID string, retryBackoff time.Duration, logger arbor.ILogger) *JobQueue {
	if retryBackoff <= 0 {
		retryBackoff = 30 * time.Second
	}
	return &JobQueue{
		jobs:         jobs,
		events:       events,
		completion:   completion,
		logger:       logger,
		serverID:     serverID,
		retryBackoff: retryBackoff,
	}
}

// ServerID returns the instance id stamped onto claimed jobs
func (q *JobQueue) ServerID() string {
	return q.serverID
}

// Dequeue claims up to maxJobs eligible jobs for a worker. Claimed jobs come
// back already running with lock fields set; an empty result means no
// eligible work.
func (q *JobQueue) Dequeue(ctx context.Context, workerID string, jobTypes []models.JobType, maxJobs int) ([]*models.CampaignJob, error) {
	if maxJobs <= 0 {
		maxJobs = 1
	}

	claimed, err := q.jobs.ClaimJobs(ctx, workerID, q.serverID, interfaces.JobClaimFilter{
		JobTypes: jobTypes,
		MaxJobs:  maxJobs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue jobs: %w", err)
	}
	return claimed, nil
}

// CompleteResult reports the outcome of a job completion
type CompleteResult struct {
	Success         bool       `json:"success"`
	JobID           uuid.UUID  `json:"job_id"`
	Status          string     `json:"status,omitempty"`
	Retried         bool       `json:"retried"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Complete finishes a running job. Success merges result data into the
// payload and triggers a completion check for pipeline job types. Failure
// below the attempt budget re-queues the job with a retry tag and backoff;
// at the budget the job fails terminally.
func (q *JobQueue) Complete(ctx context.Context, jobID uuid.UUID, success bool, resultData map[string]interface{}, errMsg string) (*CompleteResult, error) {
	result := &CompleteResult{JobID: jobID}

	job, err := q.jobs.GetJob(ctx, jobID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	if job.IsTerminal() {
		result.Error = fmt.Sprintf("job is already terminal (status %q)", job.Status)
		return result, fmt.Errorf("%s", result.Error)
	}

	if err := job.MergePayload(resultData); err != nil {
		result.Error = err.Error()
		return result, err
	}

	now := time.Now().UTC()
	job.LockedAt = nil
	job.LockedBy = ""
	job.ProcessingServerID = ""
	job.NextExecutionAt = nil
	job.UpdatedAt = now

	if success {
		job.Status = models.JobStatusCompleted
		job.BusinessStatus = ""
		job.LastError = ""
		if err := q.jobs.SaveJob(ctx, job); err != nil {
			result.Error = err.Error()
			return result, err
		}

		q.logger.Info().
			Str("job_id", jobID.String()).
			Str("job_type", string(job.JobType)).
			Str("campaign_id", job.CampaignID.String()).
			Msg("Job completed")

		if q.events != nil {
			_ = q.events.Publish(ctx, interfaces.Event{
				Type:    interfaces.EventJobCompleted,
				Payload: job,
			})
		}

		if q.completion != nil && models.IsPipelineJobType(job.JobType) {
			if _, err := q.completion.CheckCompletion(ctx, job.CampaignID); err != nil {
				q.logger.Warn().
					Err(err).
					Str("campaign_id", job.CampaignID.String()).
					Msg("Completion check failed after job success")
			}
		}

		result.Success = true
		result.Status = string(job.Status)
		return result, nil
	}

	job.LastError = errMsg

	if job.Attempts < job.MaxAttempts {
		// Budget remains: back off and re-queue
		delay := q.retryBackoff * time.Duration(1<<uint(job.Attempts-1))
		nextAt := now.Add(delay)
		job.Status = models.JobStatusPending
		job.BusinessStatus = models.BusinessStatusRetry
		job.NextExecutionAt = &nextAt

		if err := q.jobs.SaveJob(ctx, job); err != nil {
			result.Error = err.Error()
			return result, err
		}

		q.logger.Warn().
			Str("job_id", jobID.String()).
			Str("job_type", string(job.JobType)).
			Int("attempts", job.Attempts).
			Int("max_attempts", job.MaxAttempts).
			Str("next_execution_at", nextAt.Format(time.RFC3339)).
			Msg("Job failed, scheduled for retry")

		result.Success = true
		result.Status = string(job.Status)
		result.Retried = true
		result.NextExecutionAt = &nextAt
		return result, nil
	}

	// Attempt budget exhausted
	job.Status = models.JobStatusFailed
	if err := q.jobs.SaveJob(ctx, job); err != nil {
		result.Error = err.Error()
		return result, err
	}

	q.logger.Error().
		Str("job_id", jobID.String()).
		Str("job_type", string(job.JobType)).
		Str("campaign_id", job.CampaignID.String()).
		Int("attempts", job.Attempts).
		Str("last_error", errMsg).
		Msg("Job failed terminally")

	q.publishPhaseFailed(ctx, job, errMsg)

	result.Success = true
	result.Status = string(job.Status)
	return result, nil
}

// Cleanup deletes completed jobs older than the retention window in bounded
// batches, looping until a batch comes back empty.
func (q *JobQueue) Cleanup(ctx context.Context, retentionDays, batchSize int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := q.jobs.DeleteCompletedBefore(ctx, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted == 0 {
			break
		}
	}

	if total > 0 {
		q.logger.Info().
			Int("deleted", total).
			Int("retention_days", retentionDays).
			Msg("Old jobs cleaned up")
	}
	return total, nil
}

// RecoverOrphans re-queues jobs left running by a previous process. Called
// once at startup before workers begin polling.
func (q *JobQueue) RecoverOrphans(ctx context.Context) (int, error) {
	return q.jobs.RequeueOrphanedJobs(ctx, q.serverID)
}

func (q *JobQueue) publishPhaseFailed(ctx context.Context, job *models.CampaignJob, errMsg string) {
	if q.events == nil {
		return
	}
	ev := &models.CampaignEvent{
		Type:       models.EventPhaseFailed,
		CampaignID: job.CampaignID.String(),
		Timestamp:  time.Now().UTC(),
		Payload: &models.PhaseFailedPayload{
			Phase: string(job.JobType),
			Error: errMsg,
		},
	}
	if err := q.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventCampaignEvent,
		Payload: ev,
	}); err != nil {
		q.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Failed to publish phase failure event")
	}
}
