package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/common"
	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/phases"
	"github.com/leadflowhq/leadflow/internal/storage/badger"
)

type completionRecorder struct {
	calls []uuid.UUID
}

func (r *completionRecorder) CheckCompletion(ctx context.Context, campaignID uuid.UUID) (*phases.CompletionStatus, error) {
	r.calls = append(r.calls, campaignID)
	return &phases.CompletionStatus{CampaignID: campaignID}, nil
}

func newTestQueue(t *testing.T) (*JobQueue, interfaces.JobStorage, *completionRecorder) {
	t.Helper()

	logger := arbor.NewLogger()
	storage, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	recorder := &completionRecorder{}
	queue := NewJobQueue(storage.JobStorage(), nil, recorder, "server-1", time.Minute, logger)
	return queue, storage.JobStorage(), recorder
}

func claimOne(t *testing.T, queue *JobQueue, jobs interfaces.JobStorage, campaignID uuid.UUID, jobType models.JobType) *models.CampaignJob {
	t.Helper()
	ctx := context.Background()

	job, err := models.NewCampaignJob(campaignID, jobType, map[string]interface{}{"offset": 0})
	require.NoError(t, err)
	require.NoError(t, jobs.SaveJob(ctx, job))

	claimed, err := queue.Dequeue(ctx, "worker-1", nil, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestCompleteSuccessClearsLocksAndChecksCompletion(t *testing.T) {
	queue, jobs, recorder := newTestQueue(t)
	ctx := context.Background()
	campaignID := uuid.New()

	job := claimOne(t, queue, jobs, campaignID, models.JobTypeDNSValidation)

	result, err := queue.Complete(ctx, job.ID, true, map[string]interface{}{"processed": 50}, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, string(models.JobStatusCompleted), result.Status)

	stored, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Nil(t, stored.LockedAt)
	assert.Empty(t, stored.LockedBy)
	assert.Empty(t, stored.ProcessingServerID)
	assert.LessOrEqual(t, stored.Attempts, stored.MaxAttempts)

	// Result data merged without discarding the original payload
	payload, err := stored.PayloadMap()
	require.NoError(t, err)
	assert.Contains(t, payload, "offset")
	assert.EqualValues(t, 50, payload["processed"])

	// Pipeline job success triggers the completion check
	require.Len(t, recorder.calls, 1)
	assert.Equal(t, campaignID, recorder.calls[0])
}

func TestCompleteAnalysisDoesNotCheckCompletion(t *testing.T) {
	queue, jobs, recorder := newTestQueue(t)
	ctx := context.Background()

	job := claimOne(t, queue, jobs, uuid.New(), models.JobTypeAnalysis)

	_, err := queue.Complete(ctx, job.ID, true, nil, "")
	require.NoError(t, err)
	assert.Empty(t, recorder.calls)
}

func TestCompleteFailureSchedulesRetryWithBackoff(t *testing.T) {
	queue, jobs, _ := newTestQueue(t)
	ctx := context.Background()

	job := claimOne(t, queue, jobs, uuid.New(), models.JobTypeDNSValidation)
	require.Equal(t, 1, job.Attempts)

	before := time.Now().UTC()
	result, err := queue.Complete(ctx, job.ID, false, nil, "dns lookup timed out")
	require.NoError(t, err)
	assert.True(t, result.Retried)
	require.NotNil(t, result.NextExecutionAt)

	stored, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Equal(t, models.BusinessStatusRetry, stored.BusinessStatus)
	assert.Equal(t, "dns lookup timed out", stored.LastError)
	assert.LessOrEqual(t, stored.Attempts, stored.MaxAttempts)

	// First retry backs off by the base delay (base * 2^0)
	require.NotNil(t, stored.NextExecutionAt)
	delay := stored.NextExecutionAt.Sub(before)
	assert.GreaterOrEqual(t, delay, 55*time.Second)
	assert.LessOrEqual(t, delay, 65*time.Second)
}

func TestCompleteFailureAtBudgetIsTerminal(t *testing.T) {
	queue, jobs, _ := newTestQueue(t)
	ctx := context.Background()
	campaignID := uuid.New()

	job, err := models.NewCampaignJob(campaignID, models.JobTypeDNSValidation, nil)
	require.NoError(t, err)
	require.NoError(t, jobs.SaveJob(ctx, job))

	// Burn through the attempt budget
	for attempt := 1; attempt <= job.MaxAttempts; attempt++ {
		stored, err := jobs.GetJob(ctx, job.ID)
		require.NoError(t, err)
		if stored.NextExecutionAt != nil {
			past := time.Now().UTC().Add(-time.Second)
			stored.NextExecutionAt = &past
			require.NoError(t, jobs.SaveJob(ctx, stored))
		}

		claimed, err := queue.Dequeue(ctx, "worker-1", nil, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d should be claimable", attempt)
		require.Equal(t, attempt, claimed[0].Attempts)

		_, err = queue.Complete(ctx, claimed[0].ID, false, nil, "still broken")
		require.NoError(t, err)
	}

	stored, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.LessOrEqual(t, stored.Attempts, stored.MaxAttempts)

	// A terminally failed job is never claimed again
	claimed, err := queue.Dequeue(ctx, "worker-1", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// And completing it again is rejected
	_, err = queue.Complete(ctx, job.ID, true, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}

func TestCleanupLoopsUntilEmpty(t *testing.T) {
	queue, jobs, _ := newTestQueue(t)
	ctx := context.Background()
	campaignID := uuid.New()

	for i := 0; i < 5; i++ {
		job, err := models.NewCampaignJob(campaignID, models.JobTypeAnalysis, nil)
		require.NoError(t, err)
		job.Status = models.JobStatusCompleted
		require.NoError(t, jobs.SaveJob(ctx, job))
	}

	// Retention of 0 days falls back to the 30 day default, so fresh jobs
	// survive
	deleted, err := queue.Cleanup(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
