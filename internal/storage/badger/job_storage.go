package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
//
// Claim mutual exclusion uses a store-level lease: claimMu serializes claim
// passes while the status flip to running (with lock fields set) happens in a
// single upsert, so two Dequeue calls can never return the same job.
type JobStorage struct {
	db      *BadgerDB
	logger  arbor.ILogger
	claimMu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.CampaignJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	job.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id uuid.UUID) (*models.CampaignJob, error) {
	var job models.CampaignJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, campaignID uuid.UUID) ([]*models.CampaignJob, error) {
	var jobs []models.CampaignJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("CampaignID").Eq(campaignID)); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	result := make([]*models.CampaignJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// HasActiveJob reports whether a non-terminal job of the given type exists
// for the campaign. Enforces the at-most-one-active-job-per-type constraint
// at enqueue time.
func (s *JobStorage) HasActiveJob(ctx context.Context, campaignID uuid.UUID, jobType models.JobType) (bool, error) {
	var jobs []models.CampaignJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("CampaignID").Eq(campaignID)); err != nil {
		return false, fmt.Errorf("failed to query active jobs: %w", err)
	}

	for i := range jobs {
		if jobs[i].JobType == jobType && !jobs[i].IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

// ClaimJobs claims up to filter.MaxJobs eligible jobs for a worker. A job is
// eligible when its status is pending, its type matches the filter, and its
// next_execution_at (set for retries) has passed. Eligible jobs are claimed
// oldest-first. Claimed jobs transition to running in the same pass with
// attempts incremented and all lock fields set.
func (s *JobStorage) ClaimJobs(ctx context.Context, workerID, serverID string, filter interfaces.JobClaimFilter) ([]*models.CampaignJob, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker ID is required")
	}
	if filter.MaxJobs <= 0 {
		return nil, nil
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var pending []models.CampaignJob
	if err := s.db.Store().Find(&pending, badgerhold.Where("Status").Eq(models.JobStatusPending)); err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}

	now := time.Now().UTC()
	typeAllowed := func(t models.JobType) bool {
		if len(filter.JobTypes) == 0 {
			return true
		}
		for _, ft := range filter.JobTypes {
			if ft == t {
				return true
			}
		}
		return false
	}

	var eligible []models.CampaignJob
	for i := range pending {
		job := pending[i]
		if !typeAllowed(job.JobType) {
			continue
		}
		if job.NextExecutionAt != nil && job.NextExecutionAt.After(now) {
			continue
		}
		if job.Attempts >= job.MaxAttempts {
			continue
		}
		eligible = append(eligible, job)
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if len(eligible) > filter.MaxJobs {
		eligible = eligible[:filter.MaxJobs]
	}

	claimed := make([]*models.CampaignJob, 0, len(eligible))
	for i := range eligible {
		job := eligible[i]
		lockedAt := now
		job.Status = models.JobStatusRunning
		job.Attempts++
		job.LockedAt = &lockedAt
		job.LockedBy = workerID
		job.ProcessingServerID = serverID
		job.UpdatedAt = now

		if err := s.db.Store().Upsert(job.ID, &job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to claim job")
			continue
		}
		claimed = append(claimed, &job)
	}

	if len(claimed) > 0 {
		s.logger.Debug().
			Str("worker_id", workerID).
			Int("claimed", len(claimed)).
			Msg("Jobs claimed")
	}
	return claimed, nil
}

// DeleteCompletedBefore deletes up to batchSize completed jobs older than the
// cutoff. Returns the number removed so callers can loop until empty.
func (s *JobStorage) DeleteCompletedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	// The cutoff belongs in the query: limiting on status alone could fill a
	// batch with jobs too new to delete and stall the caller's loop while
	// older eligible jobs remain.
	var jobs []models.CampaignJob
	query := badgerhold.Where("Status").Eq(models.JobStatusCompleted).
		And("UpdatedAt").Lt(cutoff).
		Limit(batchSize)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return 0, fmt.Errorf("failed to query completed jobs: %w", err)
	}

	deleted := 0
	for i := range jobs {
		if err := s.db.Store().Delete(jobs[i].ID, &models.CampaignJob{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Err(err).Str("job_id", jobs[i].ID.String()).Msg("Failed to delete old job")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// RequeueOrphanedJobs resets jobs left running by a previous process back to
// pending. Called once at startup before the worker pool begins polling.
func (s *JobStorage) RequeueOrphanedJobs(ctx context.Context, serverID string) (int, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var running []models.CampaignJob
	if err := s.db.Store().Find(&running, badgerhold.Where("Status").Eq(models.JobStatusRunning)); err != nil {
		return 0, fmt.Errorf("failed to query running jobs: %w", err)
	}

	count := 0
	now := time.Now().UTC()
	for i := range running {
		job := running[i]
		if serverID != "" && job.ProcessingServerID == serverID {
			// Claimed by the current process, leave it alone
			continue
		}

		job.Status = models.JobStatusPending
		job.LockedAt = nil
		job.LockedBy = ""
		job.ProcessingServerID = ""
		// The interrupted attempt already counted; a job out of budget
		// stays unclaimed and fails at next claim filtering
		job.UpdatedAt = now

		if err := s.db.Store().Upsert(job.ID, &job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Failed to requeue orphaned job")
			continue
		}
		count++
	}

	if count > 0 {
		s.logger.Info().Int("requeued", count).Msg("Requeued jobs orphaned by previous process")
	}
	return count, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.CampaignJob{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}
