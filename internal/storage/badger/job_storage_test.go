package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

func newTestJobStorage(t *testing.T) interfaces.JobStorage {
	t.Helper()

	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewJobStorage(&BadgerDB{store: store}, arbor.NewLogger())
}

func pendingJob(t *testing.T, storage interfaces.JobStorage, campaignID uuid.UUID, jobType models.JobType) *models.CampaignJob {
	t.Helper()
	job, err := models.NewCampaignJob(campaignID, jobType, nil)
	require.NoError(t, err)
	require.NoError(t, storage.SaveJob(context.Background(), job))
	return job
}

func TestClaimJobsSetsLockFields(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	campaignID := uuid.New()

	job := pendingJob(t, storage, campaignID, models.JobTypeDomainGeneration)

	claimed, err := storage.ClaimJobs(ctx, "worker-1", "server-1", interfaces.JobClaimFilter{MaxJobs: 5})
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	got := claimed[0]
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.LockedAt)
	assert.Equal(t, "worker-1", got.LockedBy)
	assert.Equal(t, "server-1", got.ProcessingServerID)

	// The invariant holds on the stored row too
	stored, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Validate())
}

func TestClaimJobsNeverDoubleClaims(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	campaignID := uuid.New()

	const jobCount = 20
	for i := 0; i < jobCount; i++ {
		pendingJob(t, storage, campaignID, models.JobTypeDNSValidation)
	}

	const workers = 8
	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[uuid.UUID]string)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		workerID := "worker-" + uuid.NewString()
		go func(workerID string) {
			defer wg.Done()
			for {
				claimed, err := storage.ClaimJobs(ctx, workerID, "server-1", interfaces.JobClaimFilter{MaxJobs: 3})
				if err != nil {
					t.Errorf("claim failed: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, job := range claimed {
					if prev, dup := seen[job.ID]; dup {
						t.Errorf("job %s claimed by both %s and %s", job.ID, prev, workerID)
					}
					seen[job.ID] = workerID
				}
				mu.Unlock()
			}
		}(workerID)
	}
	wg.Wait()

	assert.Len(t, seen, jobCount)
}

func TestClaimJobsFiltersByType(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	campaignID := uuid.New()

	pendingJob(t, storage, campaignID, models.JobTypeDomainGeneration)
	dns := pendingJob(t, storage, campaignID, models.JobTypeDNSValidation)

	claimed, err := storage.ClaimJobs(ctx, "worker-1", "server-1", interfaces.JobClaimFilter{
		JobTypes: []models.JobType{models.JobTypeDNSValidation},
		MaxJobs:  10,
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, dns.ID, claimed[0].ID)
}

func TestClaimJobsSkipsExhaustedAttempts(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	campaignID := uuid.New()

	job, err := models.NewCampaignJob(campaignID, models.JobTypeDNSValidation, nil)
	require.NoError(t, err)
	job.Attempts = job.MaxAttempts
	require.NoError(t, storage.SaveJob(ctx, job))

	claimed, err := storage.ClaimJobs(ctx, "worker-1", "server-1", interfaces.JobClaimFilter{MaxJobs: 10})
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimJobsHonorsNextExecutionAt(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	campaignID := uuid.New()

	job, err := models.NewCampaignJob(campaignID, models.JobTypeDNSValidation, nil)
	require.NoError(t, err)
	future := time.Now().UTC().Add(time.Hour)
	job.NextExecutionAt = &future
	job.BusinessStatus = models.BusinessStatusRetry
	require.NoError(t, storage.SaveJob(ctx, job))

	claimed, err := storage.ClaimJobs(ctx, "worker-1", "server-1", interfaces.JobClaimFilter{MaxJobs: 10})
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Once the retry time passes, the job becomes claimable again
	past := time.Now().UTC().Add(-time.Minute)
	job.NextExecutionAt = &past
	require.NoError(t, storage.SaveJob(ctx, job))

	claimed, err = storage.ClaimJobs(ctx, "worker-1", "server-1", interfaces.JobClaimFilter{MaxJobs: 10})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)
}

func TestHasActiveJob(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	campaignID := uuid.New()

	active, err := storage.HasActiveJob(ctx, campaignID, models.JobTypeDomainGeneration)
	require.NoError(t, err)
	assert.False(t, active)

	job := pendingJob(t, storage, campaignID, models.JobTypeDomainGeneration)

	active, err = storage.HasActiveJob(ctx, campaignID, models.JobTypeDomainGeneration)
	require.NoError(t, err)
	assert.True(t, active)

	job.Status = models.JobStatusCompleted
	require.NoError(t, storage.SaveJob(ctx, job))

	active, err = storage.HasActiveJob(ctx, campaignID, models.JobTypeDomainGeneration)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRequeueOrphanedJobs(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	campaignID := uuid.New()

	// One job claimed by a dead process, one by this process
	orphan := pendingJob(t, storage, campaignID, models.JobTypeDNSValidation)
	ours := pendingJob(t, storage, campaignID, models.JobTypeDNSValidation)

	now := time.Now().UTC()
	for job, server := range map[*models.CampaignJob]string{orphan: "server-dead", ours: "server-live"} {
		job.Status = models.JobStatusRunning
		job.Attempts = 1
		job.LockedAt = &now
		job.LockedBy = "worker-x"
		job.ProcessingServerID = server
		require.NoError(t, storage.SaveJob(ctx, job))
	}

	count, err := storage.RequeueOrphanedJobs(ctx, "server-live")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	requeued, err := storage.GetJob(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, requeued.Status)
	assert.Nil(t, requeued.LockedAt)
	assert.Empty(t, requeued.LockedBy)
	assert.Empty(t, requeued.ProcessingServerID)

	kept, err := storage.GetJob(ctx, ours.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, kept.Status)
}

func TestDeleteCompletedBeforeSkipsRecentBatches(t *testing.T) {
	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	storage := NewJobStorage(&BadgerDB{store: store}, arbor.NewLogger())
	ctx := context.Background()
	campaignID := uuid.New()

	// Many recent completed jobs, plus one old enough to delete. The old row
	// must be found even when a batch of recent rows would fill the limit.
	for i := 0; i < 20; i++ {
		job := pendingJob(t, storage, campaignID, models.JobTypeAnalysis)
		job.Status = models.JobStatusCompleted
		require.NoError(t, storage.SaveJob(ctx, job))
	}

	old, err := models.NewCampaignJob(campaignID, models.JobTypeAnalysis, nil)
	require.NoError(t, err)
	old.Status = models.JobStatusCompleted
	old.UpdatedAt = time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, store.Upsert(old.ID, old))

	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	deleted, err := storage.DeleteCompletedBefore(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = storage.GetJob(ctx, old.ID)
	require.Error(t, err)

	// The recent jobs all survive
	count, err := storage.CountJobsByStatus(ctx, models.JobStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestDeleteCompletedBefore(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()
	campaignID := uuid.New()

	old := pendingJob(t, storage, campaignID, models.JobTypeAnalysis)
	old.Status = models.JobStatusCompleted
	require.NoError(t, storage.SaveJob(ctx, old))

	fresh := pendingJob(t, storage, campaignID, models.JobTypeAnalysis)

	// Cutoff in the future catches the completed job; the pending one stays
	deleted, err := storage.DeleteCompletedBefore(ctx, time.Now().UTC().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = storage.GetJob(ctx, old.ID)
	require.Error(t, err)
	_, err = storage.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
}
