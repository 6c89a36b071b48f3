// -----------------------------------------------------------------------
// Phase transition rules - which lifecycle moves are legal and why
// -----------------------------------------------------------------------

package phases

import (
	"fmt"

	"github.com/leadflowhq/leadflow/internal/models"
)

// Trigger names the action driving a status transition
type Trigger string

const (
	TriggerStart    Trigger = "start"
	TriggerPause    Trigger = "pause"
	TriggerResume   Trigger = "resume"
	TriggerComplete Trigger = "complete"
	TriggerFail     Trigger = "fail"
	TriggerRetry    Trigger = "retry"
)

// TransitionError reports an illegal status transition. Callers can
// distinguish it from storage failures and surface it as a validation error.
type TransitionError struct {
	From    string
	To      string
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q via %q to %q", e.From, e.Trigger, e.To)
}

// campaignTransitions maps campaign status + trigger to the resulting status
var campaignTransitions = map[models.CampaignStatus]map[Trigger]models.CampaignStatus{
	models.CampaignStatusDraft: {
		TriggerStart: models.CampaignStatusRunning,
	},
	models.CampaignStatusRunning: {
		TriggerPause:    models.CampaignStatusPaused,
		TriggerComplete: models.CampaignStatusCompleted,
		TriggerFail:     models.CampaignStatusFailed,
	},
	models.CampaignStatusPaused: {
		TriggerStart:  models.CampaignStatusRunning,
		TriggerResume: models.CampaignStatusRunning,
	},
	models.CampaignStatusFailed: {
		TriggerRetry: models.CampaignStatusRunning,
	},
}

// phaseTransitions maps phase status + trigger to the resulting status
var phaseTransitions = map[models.PhaseStatus]map[Trigger]models.PhaseStatus{
	models.PhaseStatusPending: {
		TriggerStart: models.PhaseStatusRunning,
	},
	models.PhaseStatusRunning: {
		TriggerComplete: models.PhaseStatusCompleted,
		TriggerFail:     models.PhaseStatusFailed,
	},
	models.PhaseStatusFailed: {
		TriggerRetry: models.PhaseStatusRunning,
	},
}

// NextCampaignStatus resolves a campaign transition. Transitions to the
// current status are idempotent no-ops.
func NextCampaignStatus(from models.CampaignStatus, trigger Trigger) (models.CampaignStatus, error) {
	if targets, ok := campaignTransitions[from]; ok {
		if to, ok := targets[trigger]; ok {
			return to, nil
		}
	}
	if to, ok := selfTransition(from, trigger); ok {
		return to, nil
	}
	return "", &TransitionError{From: string(from), Trigger: trigger}
}

// selfTransition reports whether the trigger is a no-op for the state it
// already produced (resuming a running campaign, pausing a paused one).
// Start is deliberately absent: re-starting a running campaign would rebuild
// its phase rows and must be rejected, not treated as idempotent.
func selfTransition(from models.CampaignStatus, trigger Trigger) (models.CampaignStatus, bool) {
	switch {
	case from == models.CampaignStatusRunning && trigger == TriggerResume:
		return from, true
	case from == models.CampaignStatusPaused && trigger == TriggerPause:
		return from, true
	case from == models.CampaignStatusCompleted && trigger == TriggerComplete:
		return from, true
	}
	return "", false
}

// NextPhaseStatus resolves a phase transition. Transitions to the current
// status are idempotent no-ops.
func NextPhaseStatus(from models.PhaseStatus, trigger Trigger) (models.PhaseStatus, error) {
	if targets, ok := phaseTransitions[from]; ok {
		if to, ok := targets[trigger]; ok {
			return to, nil
		}
	}
	switch {
	case from == models.PhaseStatusRunning && (trigger == TriggerStart || trigger == TriggerRetry):
		return from, nil
	case from == models.PhaseStatusCompleted && trigger == TriggerComplete:
		return from, nil
	case from == models.PhaseStatusFailed && trigger == TriggerFail:
		return from, nil
	}
	return "", &TransitionError{From: string(from), Trigger: trigger}
}

// IsTerminalPhaseStatus returns true for statuses that never transition again
// except through an explicit retry.
func IsTerminalPhaseStatus(status models.PhaseStatus) bool {
	return status == models.PhaseStatusCompleted || status == models.PhaseStatusFailed
}
