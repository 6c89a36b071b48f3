// -----------------------------------------------------------------------
// Phase State Machine - campaign lifecycle, completion checks, job fan-out
// -----------------------------------------------------------------------

package phases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/common"
	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

var validate = validator.New()

// StateMachine drives campaigns through the fixed pipeline. All mutations of
// a campaign's status, phase rows and job fan-out run under that campaign's
// mutex so an advance is observed as one atomic unit.
type StateMachine struct {
	campaigns interfaces.CampaignStorage
	phases    interfaces.PhaseStorage
	jobs      interfaces.JobStorage
	domains   interfaces.DomainStorage
	keywords  interfaces.KeywordStorage
	events    interfaces.EventService
	logger    arbor.ILogger

	threshold float64
	batchSize int

	mu         sync.Mutex
	campaignMu map[uuid.UUID]*sync.Mutex
}

// NewStateMachine creates a state machine over the given storage
func NewStateMachine(storage interfaces.StorageManager, events interfaces.EventService, config *common.PipelineConfig, logger arbor.ILogger) *StateMachine {
	threshold := 95.0
	batchSize := 50
	if config != nil {
		if config.CompletionThreshold > 0 {
			threshold = config.CompletionThreshold
		}
		if config.BatchSize > 0 {
			batchSize = config.BatchSize
		}
	}

	return &StateMachine{
		campaigns:  storage.CampaignStorage(),
		phases:     storage.PhaseStorage(),
		jobs:       storage.JobStorage(),
		domains:    storage.DomainStorage(),
		keywords:   storage.KeywordStorage(),
		events:     events,
		logger:     logger,
		threshold:  threshold,
		batchSize:  batchSize,
		campaignMu: make(map[uuid.UUID]*sync.Mutex),
	}
}

// Threshold returns the configured auto-advance completion threshold
func (sm *StateMachine) Threshold() float64 {
	return sm.threshold
}

func (sm *StateMachine) lockCampaign(id uuid.UUID) func() {
	sm.mu.Lock()
	mu, ok := sm.campaignMu[id]
	if !ok {
		mu = &sync.Mutex{}
		sm.campaignMu[id] = mu
	}
	sm.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// StartResult reports the outcome of a campaign start
type StartResult struct {
	Success     bool      `json:"success"`
	CampaignID  uuid.UUID `json:"campaign_id"`
	Phase       string    `json:"phase,omitempty"`
	JobsCreated int       `json:"jobs_created"`
	Error       string    `json:"error,omitempty"`
}

// CompletionStatus reports the current phase completion state
type CompletionStatus struct {
	CampaignID     uuid.UUID `json:"campaign_id"`
	Phase          string    `json:"phase"`
	CompletionRate float64   `json:"completion_rate"`
	ThresholdMet   bool      `json:"threshold_met"`
	Advanced       bool      `json:"advanced"`
}

// AdvanceResult reports the outcome of a phase advance
type AdvanceResult struct {
	Success           bool      `json:"success"`
	CampaignID        uuid.UUID `json:"campaign_id"`
	FromPhase         string    `json:"from_phase,omitempty"`
	ToPhase           string    `json:"to_phase,omitempty"`
	CampaignCompleted bool      `json:"campaign_completed"`
	JobsCreated       int       `json:"jobs_created"`
	Error             string    `json:"error,omitempty"`
}

// ControlResult reports the outcome of a pause or resume
type ControlResult struct {
	Success    bool      `json:"success"`
	CampaignID uuid.UUID `json:"campaign_id"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Start validates preconditions and moves a campaign into its first phase.
// All validation happens before the first write, so a failed start leaves the
// campaign untouched.
func (sm *StateMachine) Start(ctx context.Context, campaignID uuid.UUID, userID string, force bool) (*StartResult, error) {
	unlock := sm.lockCampaign(campaignID)
	defer unlock()

	result := &StartResult{CampaignID: campaignID}

	campaign, err := sm.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	if !force {
		if _, err := NextCampaignStatus(campaign.Status, TriggerStart); err != nil {
			result.Error = fmt.Sprintf("campaign cannot start from status %q", campaign.Status)
			return result, fmt.Errorf("%s", result.Error)
		}
	}

	if campaign.GenerationParams == nil {
		result.Error = "campaign has no generation params"
		return result, fmt.Errorf("%s", result.Error)
	}
	if err := validate.Struct(campaign.GenerationParams); err != nil {
		result.Error = fmt.Sprintf("invalid generation params: %v", err)
		return result, fmt.Errorf("%s", result.Error)
	}

	activeSets, err := sm.keywords.ListActiveKeywordSets(ctx)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	if len(activeSets) == 0 {
		result.Error = "no active keyword sets configured"
		return result, fmt.Errorf("%s", result.Error)
	}

	now := time.Now().UTC()
	phaseRows := make([]*models.CampaignPhase, 0, len(models.PhaseOrder))
	for i, phaseType := range models.PhaseOrder {
		row := models.NewCampaignPhase(campaignID, phaseType, i)
		if i == 0 {
			row.Status = models.PhaseStatusRunning
			startedAt := now
			row.StartedAt = &startedAt
		}
		phaseRows = append(phaseRows, row)
	}

	if err := sm.phases.SavePhases(ctx, phaseRows); err != nil {
		result.Error = err.Error()
		return result, err
	}

	campaign.Status = models.CampaignStatusRunning
	campaign.CurrentPhase = models.PhaseDomainGeneration
	startedAt := now
	campaign.StartedAt = &startedAt
	campaign.UpdatedAt = now
	if err := sm.campaigns.SaveCampaign(ctx, campaign); err != nil {
		result.Error = err.Error()
		return result, err
	}

	jobsCreated, err := sm.createPhaseJobsLocked(ctx, campaign, models.PhaseDomainGeneration)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	sm.logger.Info().
		Str("campaign_id", campaignID.String()).
		Str("user_id", userID).
		Int("jobs_created", jobsCreated).
		Bool("force", force).
		Msg("Campaign started")

	sm.publishCampaignEvent(ctx, &models.CampaignEvent{
		Type:       models.EventPhaseStarted,
		CampaignID: campaignID.String(),
		Timestamp:  now,
		Payload: &models.PhaseStartedPayload{
			Phase:   string(models.PhaseDomainGeneration),
			Message: "Domain generation started",
		},
	})
	if sm.events != nil {
		_ = sm.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventCampaignStarted,
			Payload: campaign,
		})
	}

	result.Success = true
	result.Phase = string(models.PhaseDomainGeneration)
	result.JobsCreated = jobsCreated
	return result, nil
}

// CheckCompletion recomputes the current phase's completion rate and
// auto-advances when it meets the threshold.
func (sm *StateMachine) CheckCompletion(ctx context.Context, campaignID uuid.UUID) (*CompletionStatus, error) {
	campaign, err := sm.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	status := &CompletionStatus{
		CampaignID: campaignID,
		Phase:      string(campaign.CurrentPhase),
	}

	if campaign.Status != models.CampaignStatusRunning {
		return status, nil
	}

	rate := CompletionRate(campaign)
	status.CompletionRate = rate
	status.ThresholdMet = rate >= sm.threshold

	if !status.ThresholdMet {
		return status, nil
	}

	advanceResult, err := sm.Advance(ctx, campaignID, "system", sm.threshold)
	if err != nil {
		// The campaign may have been advanced or paused concurrently;
		// report the check result without failing the completion path
		sm.logger.Warn().
			Err(err).
			Str("campaign_id", campaignID.String()).
			Msg("Auto-advance skipped")
		return status, nil
	}
	status.Advanced = advanceResult.Success
	return status, nil
}

// Advance moves the campaign to its next phase, or completes the campaign
// when the current phase is the last one. The whole move runs under the
// campaign mutex: phase rows, campaign row and job fan-out are never observed
// half-applied.
func (sm *StateMachine) Advance(ctx context.Context, campaignID uuid.UUID, userID string, threshold float64) (*AdvanceResult, error) {
	unlock := sm.lockCampaign(campaignID)
	defer unlock()

	if threshold <= 0 {
		threshold = sm.threshold
	}

	result := &AdvanceResult{CampaignID: campaignID}

	campaign, err := sm.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	if campaign.Status != models.CampaignStatusRunning {
		result.Error = fmt.Sprintf("campaign is not running (status %q)", campaign.Status)
		return result, fmt.Errorf("%s", result.Error)
	}

	rate := CompletionRate(campaign)
	if rate < threshold {
		result.Error = fmt.Sprintf("insufficient completion: %.1f%% < %.1f%%", rate, threshold)
		return result, fmt.Errorf("%s", result.Error)
	}

	currentPhase, err := sm.phases.GetPhase(ctx, campaignID, campaign.CurrentPhase)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	now := time.Now().UTC()
	result.FromPhase = string(campaign.CurrentPhase)

	nextStatus, err := NextPhaseStatus(currentPhase.Status, TriggerComplete)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	currentPhase.Status = nextStatus
	currentPhase.CompletionRate = rate
	completedAt := now
	currentPhase.CompletedAt = &completedAt

	next := models.NextPhase(campaign.CurrentPhase)
	if next == "" {
		// Last phase done: the campaign itself completes
		if err := sm.phases.SavePhase(ctx, currentPhase); err != nil {
			result.Error = err.Error()
			return result, err
		}
		campaign.Status = models.CampaignStatusCompleted
		campaign.CompletedAt = &completedAt
		campaign.UpdatedAt = now
		if err := sm.campaigns.SaveCampaign(ctx, campaign); err != nil {
			result.Error = err.Error()
			return result, err
		}

		sm.publishCampaignEvent(ctx, &models.CampaignEvent{
			Type:       models.EventPhaseCompleted,
			CampaignID: campaignID.String(),
			Timestamp:  now,
			Payload: &models.PhaseCompletedPayload{
				Phase:   result.FromPhase,
				Message: "Campaign completed",
			},
		})

		sm.logger.Info().
			Str("campaign_id", campaignID.String()).
			Str("user_id", userID).
			Str("phase", result.FromPhase).
			Msg("Campaign completed")

		result.Success = true
		result.CampaignCompleted = true
		return result, nil
	}

	nextPhase, err := sm.phases.GetPhase(ctx, campaignID, next)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	nextPhaseStatus, err := NextPhaseStatus(nextPhase.Status, TriggerStart)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	nextPhase.Status = nextPhaseStatus
	startedAt := now
	nextPhase.StartedAt = &startedAt

	if err := sm.phases.SavePhases(ctx, []*models.CampaignPhase{currentPhase, nextPhase}); err != nil {
		result.Error = err.Error()
		return result, err
	}

	campaign.CurrentPhase = next
	if next == models.PhaseHTTPKeywordValidation {
		// DNS-valid domains are the work set for the HTTP phase
		validCount, err := sm.domains.CountDomains(ctx, campaignID, true)
		if err != nil {
			result.Error = err.Error()
			return result, err
		}
		campaign.HTTPTotalCount = validCount
	}
	campaign.UpdatedAt = now
	if err := sm.campaigns.SaveCampaign(ctx, campaign); err != nil {
		result.Error = err.Error()
		return result, err
	}

	jobsCreated, err := sm.createPhaseJobsLocked(ctx, campaign, next)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	sm.publishCampaignEvent(ctx, &models.CampaignEvent{
		Type:       models.EventPhaseCompleted,
		CampaignID: campaignID.String(),
		Timestamp:  now,
		Payload: &models.PhaseCompletedPayload{
			Phase: result.FromPhase,
			Results: map[string]interface{}{
				"completion_rate": rate,
			},
		},
	})
	sm.publishCampaignEvent(ctx, &models.CampaignEvent{
		Type:       models.EventPhaseStarted,
		CampaignID: campaignID.String(),
		Timestamp:  now,
		Payload: &models.PhaseStartedPayload{
			Phase: string(next),
		},
	})

	sm.logger.Info().
		Str("campaign_id", campaignID.String()).
		Str("user_id", userID).
		Str("from_phase", result.FromPhase).
		Str("to_phase", string(next)).
		Int("jobs_created", jobsCreated).
		Msg("Campaign advanced to next phase")

	result.Success = true
	result.ToPhase = string(next)
	result.JobsCreated = jobsCreated
	return result, nil
}

// CreatePhaseJobs enqueues the jobs for a phase. Singleton phases get one
// job; batch phases get ceil(pending/batchSize) jobs with offset payloads.
func (sm *StateMachine) CreatePhaseJobs(ctx context.Context, campaignID uuid.UUID, phaseType models.PhaseType, userID string) (int, error) {
	unlock := sm.lockCampaign(campaignID)
	defer unlock()

	campaign, err := sm.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	return sm.createPhaseJobsLocked(ctx, campaign, phaseType)
}

// createPhaseJobsLocked does the fan-out. Callers hold the campaign mutex.
// New jobs are only created when no non-terminal job of the type exists, so
// repeated calls cannot duplicate a phase's work.
func (sm *StateMachine) createPhaseJobsLocked(ctx context.Context, campaign *models.Campaign, phaseType models.PhaseType) (int, error) {
	jobType := models.JobType(phaseType)

	active, err := sm.jobs.HasActiveJob(ctx, campaign.ID, jobType)
	if err != nil {
		return 0, err
	}
	if active {
		sm.logger.Debug().
			Str("campaign_id", campaign.ID.String()).
			Str("job_type", string(jobType)).
			Msg("Active job exists, skipping job creation")
		return 0, nil
	}

	switch phaseType {
	case models.PhaseDomainGeneration:
		job, err := models.NewCampaignJob(campaign.ID, jobType, map[string]interface{}{
			"target_count": campaign.TargetDomainCount,
		})
		if err != nil {
			return 0, err
		}
		if err := sm.jobs.SaveJob(ctx, job); err != nil {
			return 0, err
		}
		return 1, nil

	case models.PhaseAnalysis:
		job, err := models.NewCampaignJob(campaign.ID, jobType, nil)
		if err != nil {
			return 0, err
		}
		if err := sm.jobs.SaveJob(ctx, job); err != nil {
			return 0, err
		}
		return 1, nil

	case models.PhaseDNSValidation, models.PhaseHTTPKeywordValidation:
		pending := campaign.DomainsGeneratedCount
		if phaseType == models.PhaseHTTPKeywordValidation {
			pending = campaign.HTTPTotalCount
		}
		if pending <= 0 {
			return 0, nil
		}

		batches := int((pending + int64(sm.batchSize) - 1) / int64(sm.batchSize))
		created := 0
		for i := 0; i < batches; i++ {
			job, err := models.NewCampaignJob(campaign.ID, jobType, map[string]interface{}{
				"offset":        i * sm.batchSize,
				"batch_size":    sm.batchSize,
				"batch_number":  i + 1,
				"total_batches": batches,
			})
			if err != nil {
				return created, err
			}
			if err := sm.jobs.SaveJob(ctx, job); err != nil {
				return created, err
			}
			created++
		}
		return created, nil
	}

	return 0, fmt.Errorf("unknown phase type: %s", phaseType)
}

// Pause moves a running campaign to paused
func (sm *StateMachine) Pause(ctx context.Context, campaignID uuid.UUID, userID string) (*ControlResult, error) {
	return sm.applyControl(ctx, campaignID, userID, TriggerPause)
}

// Resume moves a paused campaign back to running
func (sm *StateMachine) Resume(ctx context.Context, campaignID uuid.UUID, userID string) (*ControlResult, error) {
	return sm.applyControl(ctx, campaignID, userID, TriggerResume)
}

func (sm *StateMachine) applyControl(ctx context.Context, campaignID uuid.UUID, userID string, trigger Trigger) (*ControlResult, error) {
	unlock := sm.lockCampaign(campaignID)
	defer unlock()

	result := &ControlResult{CampaignID: campaignID}

	campaign, err := sm.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	next, err := NextCampaignStatus(campaign.Status, trigger)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	if next != campaign.Status {
		campaign.Status = next
		campaign.UpdatedAt = time.Now().UTC()
		if err := sm.campaigns.SaveCampaign(ctx, campaign); err != nil {
			result.Error = err.Error()
			return result, err
		}

		sm.publishCampaignEvent(ctx, &models.CampaignEvent{
			Type:       models.EventModeChanged,
			CampaignID: campaignID.String(),
			Timestamp:  campaign.UpdatedAt,
			Payload:    &models.ModeChangedPayload{Mode: string(next)},
		})

		sm.logger.Info().
			Str("campaign_id", campaignID.String()).
			Str("user_id", userID).
			Str("trigger", string(trigger)).
			Str("status", string(next)).
			Msg("Campaign status changed")
	}

	result.Success = true
	result.Status = string(next)
	return result, nil
}

// CompletionRate computes the current phase's completion percentage from the
// campaign's aggregate counters, clamped to 100.
func CompletionRate(c *models.Campaign) float64 {
	var rate float64
	switch c.CurrentPhase {
	case models.PhaseDomainGeneration:
		if c.TargetDomainCount > 0 {
			rate = float64(c.DomainsGeneratedCount) / float64(c.TargetDomainCount) * 100
		}
	case models.PhaseDNSValidation:
		if c.DomainsGeneratedCount > 0 {
			rate = float64(c.DomainsValidatedCount) / float64(c.DomainsGeneratedCount) * 100
		}
	case models.PhaseHTTPKeywordValidation:
		if c.HTTPTotalCount > 0 {
			rate = float64(c.HTTPValidatedCount) / float64(c.HTTPTotalCount) * 100
		} else {
			// No DNS-valid domains to fetch: the phase has nothing to do
			rate = 100
		}
	case models.PhaseAnalysis:
		rate = 100
	}

	if rate > 100 {
		rate = 100
	}
	return rate
}

func (sm *StateMachine) publishCampaignEvent(ctx context.Context, ev *models.CampaignEvent) {
	if sm.events == nil {
		return
	}
	if err := sm.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventCampaignEvent,
		Payload: ev,
	}); err != nil {
		sm.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to publish campaign event")
	}
}
