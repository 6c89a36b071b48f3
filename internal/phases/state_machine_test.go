package phases

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
	"github.com/leadflowhq/leadflow/internal/storage/badger"
)

func newTestStateMachine(t *testing.T) (*StateMachine, interfaces.StorageManager) {
	t.Helper()

	logger := arbor.NewLogger()
	storage, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	sm := NewStateMachine(storage, nil, &common.PipelineConfig{
		CompletionThreshold: 95.0,
		BatchSize:           50,
	}, logger)
	return sm, storage
}

func seedCampaign(t *testing.T, storage interfaces.StorageManager, mutate func(*models.Campaign)) *models.Campaign {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC()
	campaign := &models.Campaign{
		ID:                uuid.New(),
		Name:              "acme-leads",
		Status:            models.CampaignStatusDraft,
		TargetDomainCount: 100,
		GenerationParams: &models.GenerationParams{
			Pattern:        "acme",
			TLDs:           []string{"com", "io"},
			VariableLength: 1,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mutate != nil {
		mutate(campaign)
	}
	require.NoError(t, storage.CampaignStorage().SaveCampaign(ctx, campaign))

	require.NoError(t, storage.KeywordStorage().SaveKeywordSet(ctx, &models.KeywordSet{
		ID:       "saas",
		Name:     "SaaS keywords",
		Active:   true,
		Keywords: []models.Keyword{{Pattern: "pricing", Weight: 2}},
	}))

	return campaign
}

func TestStartCreatesPhaseRowsAndFirstJob(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, nil)

	result, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, string(models.PhaseDomainGeneration), result.Phase)
	assert.Equal(t, 1, result.JobsCreated)

	updated, err := storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, updated.Status)
	assert.Equal(t, models.PhaseDomainGeneration, updated.CurrentPhase)
	assert.NotNil(t, updated.StartedAt)

	rows, err := storage.PhaseStorage().ListPhases(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, rows, len(models.PhaseOrder))
	assert.Equal(t, models.PhaseStatusRunning, rows[0].Status)
	for _, row := range rows[1:] {
		assert.Equal(t, models.PhaseStatusPending, row.Status)
	}
}

func TestStartRejectsWrongStatus(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, func(c *models.Campaign) {
		c.Status = models.CampaignStatusCompleted
	})

	result, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "cannot start")

	// No mutation on precondition failure
	unchanged, err := storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, unchanged.Status)

	rows, err := storage.PhaseStorage().ListPhases(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStartRejectsRunningCampaign(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, nil)

	_, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.NoError(t, err)

	// Advance mid-pipeline so a restart would have progress to destroy
	c, err := storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	c.DomainsGeneratedCount = 100
	require.NoError(t, storage.CampaignStorage().SaveCampaign(ctx, c))
	jobs, err := storage.JobStorage().ListJobs(ctx, campaign.ID)
	require.NoError(t, err)
	for _, job := range jobs {
		job.Status = models.JobStatusCompleted
		require.NoError(t, storage.JobStorage().SaveJob(ctx, job))
	}
	_, err = sm.Advance(ctx, campaign.ID, "user-1", 95.0)
	require.NoError(t, err)

	result, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "cannot start")

	// Pipeline progress is untouched: no phase row reset, no rewind of
	// current_phase
	c, err = storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDNSValidation, c.CurrentPhase)

	generation, err := storage.PhaseStorage().GetPhase(ctx, campaign.ID, models.PhaseDomainGeneration)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStatusCompleted, generation.Status)
}

func TestStartRequiresGenerationParams(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, func(c *models.Campaign) {
		c.GenerationParams = nil
	})

	_, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation params")
}

func TestStartForceOverridesStatusCheck(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, func(c *models.Campaign) {
		c.Status = models.CampaignStatusFailed
	})

	result, err := sm.Start(ctx, campaign.ID, "user-1", true)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestAdvanceKeepsPhaseAndCampaignConsistent(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, nil)

	_, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.NoError(t, err)

	// Below threshold: neither the phase row nor the campaign may change
	_, err = sm.Advance(ctx, campaign.ID, "user-1", 95.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient completion")

	c, err := storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDomainGeneration, c.CurrentPhase)
	row, err := storage.PhaseStorage().GetPhase(ctx, campaign.ID, models.PhaseDomainGeneration)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStatusRunning, row.Status)

	// At threshold: both change together
	c.DomainsGeneratedCount = 100
	require.NoError(t, storage.CampaignStorage().SaveCampaign(ctx, c))

	result, err := sm.Advance(ctx, campaign.ID, "user-1", 95.0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, string(models.PhaseDomainGeneration), result.FromPhase)
	assert.Equal(t, string(models.PhaseDNSValidation), result.ToPhase)

	c, err = storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDNSValidation, c.CurrentPhase)

	completed, err := storage.PhaseStorage().GetPhase(ctx, campaign.ID, models.PhaseDomainGeneration)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
	assert.InDelta(t, 100.0, completed.CompletionRate, 0.01)

	running, err := storage.PhaseStorage().GetPhase(ctx, campaign.ID, models.PhaseDNSValidation)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStatusRunning, running.Status)
}

func TestCheckCompletionAutoAdvancesAtThreshold(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, nil)

	_, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.NoError(t, err)

	// Complete the generation job so the batch fan-out is not blocked by it
	jobs, err := storage.JobStorage().ListJobs(ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	jobs[0].Status = models.JobStatusCompleted
	require.NoError(t, storage.JobStorage().SaveJob(ctx, jobs[0]))

	// 96 of 100 generated: 96% >= 95% threshold
	c, err := storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	c.DomainsGeneratedCount = 96
	require.NoError(t, storage.CampaignStorage().SaveCampaign(ctx, c))

	status, err := sm.CheckCompletion(ctx, campaign.ID)
	require.NoError(t, err)
	assert.InDelta(t, 96.0, status.CompletionRate, 0.01)
	assert.True(t, status.ThresholdMet)
	assert.True(t, status.Advanced)

	c, err = storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDNSValidation, c.CurrentPhase)

	// ceil(96/50) = 2 validation batch jobs
	jobs, err = storage.JobStorage().ListJobs(ctx, campaign.ID)
	require.NoError(t, err)
	dnsJobs := 0
	for _, job := range jobs {
		if job.JobType == models.JobTypeDNSValidation {
			dnsJobs++
			payload, err := job.PayloadMap()
			require.NoError(t, err)
			assert.Contains(t, payload, "offset")
			assert.Contains(t, payload, "batch_number")
		}
	}
	assert.Equal(t, 2, dnsJobs)
}

func TestCheckCompletionBelowThresholdDoesNotAdvance(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, nil)

	_, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.NoError(t, err)

	c, err := storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	c.DomainsGeneratedCount = 50
	require.NoError(t, storage.CampaignStorage().SaveCampaign(ctx, c))

	status, err := sm.CheckCompletion(ctx, campaign.ID)
	require.NoError(t, err)
	assert.False(t, status.ThresholdMet)
	assert.False(t, status.Advanced)

	c, err = storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDomainGeneration, c.CurrentPhase)
}

func TestAdvanceThroughFinalPhaseCompletesCampaign(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, nil)

	_, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.NoError(t, err)

	advance := func(generated, validated, httpValidated int64) {
		c, err := storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
		require.NoError(t, err)
		c.DomainsGeneratedCount = generated
		c.DomainsValidatedCount = validated
		c.HTTPValidatedCount = httpValidated
		require.NoError(t, storage.CampaignStorage().SaveCampaign(ctx, c))

		// Clear non-terminal jobs so fan-out guards do not block
		jobs, err := storage.JobStorage().ListJobs(ctx, campaign.ID)
		require.NoError(t, err)
		for _, job := range jobs {
			if !job.IsTerminal() {
				job.Status = models.JobStatusCompleted
				job.LockedAt = nil
				job.LockedBy = ""
				job.ProcessingServerID = ""
				require.NoError(t, storage.JobStorage().SaveJob(ctx, job))
			}
		}

		_, err = sm.Advance(ctx, campaign.ID, "user-1", 95.0)
		require.NoError(t, err)
	}

	advance(100, 0, 0)   // domain_generation -> dns_validation
	advance(100, 100, 0) // dns_validation -> http_keyword_validation

	// No DNS-valid domains stored, so the HTTP phase has nothing to do and
	// reports 100%
	advance(100, 100, 0) // http_keyword_validation -> analysis
	advance(100, 100, 0) // analysis -> campaign completed

	c, err := storage.CampaignStorage().GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, c.Status)
	assert.NotNil(t, c.CompletedAt)

	// Advance past the end is a clean precondition failure, not corruption
	_, err = sm.Advance(ctx, campaign.ID, "user-1", 95.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestPauseAndResume(t *testing.T) {
	sm, storage := newTestStateMachine(t)
	ctx := context.Background()
	campaign := seedCampaign(t, storage, nil)

	_, err := sm.Start(ctx, campaign.ID, "user-1", false)
	require.NoError(t, err)

	paused, err := sm.Pause(ctx, campaign.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, paused.Success)
	assert.Equal(t, string(models.CampaignStatusPaused), paused.Status)

	// Pausing a paused campaign is idempotent
	paused, err = sm.Pause(ctx, campaign.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, paused.Success)

	resumed, err := sm.Resume(ctx, campaign.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.CampaignStatusRunning), resumed.Status)
}

func TestCompletionRate(t *testing.T) {
	tests := []struct {
		name     string
		campaign models.Campaign
		want     float64
	}{
		{
			name: "domain generation partial",
			campaign: models.Campaign{
				CurrentPhase:          models.PhaseDomainGeneration,
				TargetDomainCount:     100,
				DomainsGeneratedCount: 96,
			},
			want: 96,
		},
		{
			name: "domain generation zero target",
			campaign: models.Campaign{
				CurrentPhase:      models.PhaseDomainGeneration,
				TargetDomainCount: 0,
			},
			want: 0,
		},
		{
			name: "dns validation",
			campaign: models.Campaign{
				CurrentPhase:          models.PhaseDNSValidation,
				DomainsGeneratedCount: 200,
				DomainsValidatedCount: 50,
			},
			want: 25,
		},
		{
			name: "http phase with no work set",
			campaign: models.Campaign{
				CurrentPhase:   models.PhaseHTTPKeywordValidation,
				HTTPTotalCount: 0,
			},
			want: 100,
		},
		{
			name: "analysis always complete",
			campaign: models.Campaign{
				CurrentPhase: models.PhaseAnalysis,
			},
			want: 100,
		},
		{
			name: "clamped at 100",
			campaign: models.Campaign{
				CurrentPhase:          models.PhaseDomainGeneration,
				TargetDomainCount:     100,
				DomainsGeneratedCount: 150,
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CompletionRate(&tt.campaign), 0.01)
		})
	}
}
