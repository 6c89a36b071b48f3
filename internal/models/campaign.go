// -----------------------------------------------------------------------
// Campaign - lead generation campaign and its ordered pipeline phases
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// PhaseType identifies one stage of the campaign pipeline
type PhaseType string

const (
	PhaseDomainGeneration      PhaseType = "domain_generation"
	PhaseDNSValidation         PhaseType = "dns_validation"
	PhaseHTTPKeywordValidation PhaseType = "http_keyword_validation"
	PhaseAnalysis              PhaseType = "analysis"
)

// PhaseOrder is the fixed pipeline order. Transitions are linear and total;
// there is no branching mid-pipeline other than failure.
var PhaseOrder = []PhaseType{
	PhaseDomainGeneration,
	PhaseDNSValidation,
	PhaseHTTPKeywordValidation,
	PhaseAnalysis,
}

// NextPhase returns the phase after the given one, or empty string when the
// given phase is the last in the pipeline.
func NextPhase(phase PhaseType) PhaseType {
	for i, p := range PhaseOrder {
		if p == phase && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1]
		}
	}
	return ""
}

// PhaseIndex returns the zero-based pipeline position of a phase, or -1.
func PhaseIndex(phase PhaseType) int {
	for i, p := range PhaseOrder {
		if p == phase {
			return i
		}
	}
	return -1
}

// GenerationParams configures the domain generation phase. Validated when the
// campaign starts - a campaign without generation params cannot start.
type GenerationParams struct {
	Pattern        string   `json:"pattern" toml:"pattern" validate:"required"`
	TLDs           []string `json:"tlds" toml:"tlds" validate:"required,min=1"`
	CharacterSet   string   `json:"character_set,omitempty" toml:"character_set"`
	VariableLength int      `json:"variable_length,omitempty" toml:"variable_length" validate:"gte=0,lte=8"`
}

// Campaign represents a lead generation campaign. The orchestration core owns
// Status, CurrentPhase and the aggregate counters; everything else belongs to
// campaign CRUD.
type Campaign struct {
	ID           uuid.UUID      `json:"id" badgerhold:"key"`
	Name         string         `json:"name"`
	Status       CampaignStatus `json:"status" badgerhold:"index"`
	CurrentPhase PhaseType      `json:"current_phase"`

	// Aggregate counters maintained by workers, read by completion checks
	TargetDomainCount     int64 `json:"target_domain_count"`
	DomainsGeneratedCount int64 `json:"domains_generated_count"`
	DomainsValidatedCount int64 `json:"domains_validated_count"`
	HTTPValidatedCount    int64 `json:"http_validated_count"`
	HTTPTotalCount        int64 `json:"http_total_count"`

	GenerationParams *GenerationParams `json:"generation_params,omitempty"`
	KeywordSetID     string            `json:"keyword_set_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true once the campaign can no longer advance.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignStatusCompleted || c.Status == CampaignStatusFailed
}

// PhaseStatus represents the state of a single campaign phase row
type PhaseStatus string

const (
	PhaseStatusPending   PhaseStatus = "pending"
	PhaseStatusRunning   PhaseStatus = "running"
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusFailed    PhaseStatus = "failed"
)

// CampaignPhase is one ordered stage row for a campaign. Rows are created
// together at campaign start and are only ever mutated by the state machine,
// never deleted.
type CampaignPhase struct {
	ID             string      `json:"id" badgerhold:"key"` // campaignID|phaseType
	CampaignID     uuid.UUID   `json:"campaign_id" badgerhold:"index"`
	PhaseType      PhaseType   `json:"phase_type"`
	PhaseOrder     int         `json:"phase_order"`
	Status         PhaseStatus `json:"status"`
	CompletionRate float64     `json:"completion_rate"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// PhaseKey builds the storage key for a (campaign, phase) pair.
func PhaseKey(campaignID uuid.UUID, phase PhaseType) string {
	return campaignID.String() + "|" + string(phase)
}

// NewCampaignPhase creates a phase row in its initial pending state.
func NewCampaignPhase(campaignID uuid.UUID, phase PhaseType, order int) *CampaignPhase {
	return &CampaignPhase{
		ID:         PhaseKey(campaignID, phase),
		CampaignID: campaignID,
		PhaseType:  phase,
		PhaseOrder: order,
		Status:     PhaseStatusPending,
	}
}
