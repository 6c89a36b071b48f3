// -----------------------------------------------------------------------
// Campaign Job - one unit of dispatchable work belonging to a phase
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a campaign job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobType identifies which worker handles a job. The three validation types
// participate in completion-threshold checks; analysis jobs finish the
// pipeline.
type JobType string

const (
	JobTypeDomainGeneration      JobType = "domain_generation"
	JobTypeDNSValidation         JobType = "dns_validation"
	JobTypeHTTPKeywordValidation JobType = "http_keyword_validation"
	JobTypeAnalysis              JobType = "analysis"
)

// PipelineJobTypes are the job types whose successful completion triggers a
// campaign completion check.
var PipelineJobTypes = []JobType{
	JobTypeDomainGeneration,
	JobTypeDNSValidation,
	JobTypeHTTPKeywordValidation,
}

// IsPipelineJobType reports whether completing a job of this type should
// trigger a campaign completion check.
func IsPipelineJobType(t JobType) bool {
	for _, pt := range PipelineJobTypes {
		if pt == t {
			return true
		}
	}
	return false
}

// BusinessStatusRetry tags a failed job that has been rescheduled for another
// attempt. Retry jobs become claimable once NextExecutionAt passes.
const BusinessStatusRetry = "retry"

// DefaultMaxAttempts is the retry budget for new jobs.
const DefaultMaxAttempts = 3

// CampaignJob is the durable queue row. Payload is an opaque JSON blob
// interpreted by the worker, not by the orchestration core.
type CampaignJob struct {
	ID         uuid.UUID `json:"id" badgerhold:"key"`
	CampaignID uuid.UUID `json:"campaign_id" badgerhold:"index"`
	JobType    JobType   `json:"job_type"`
	Status     JobStatus `json:"status" badgerhold:"index"`

	Payload json.RawMessage `json:"payload,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	LastError      string `json:"last_error,omitempty"`
	BusinessStatus string `json:"business_status,omitempty"`

	ScheduledAt     time.Time  `json:"scheduled_at"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`

	// Worker lock fields: both-null or both-set, set together with
	// ProcessingServerID when the job transitions to running.
	LockedAt           *time.Time `json:"locked_at,omitempty"`
	LockedBy           string     `json:"locked_by,omitempty"`
	ProcessingServerID string     `json:"processing_server_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCampaignJob creates a pending job scheduled for immediate execution.
func NewCampaignJob(campaignID uuid.UUID, jobType JobType, payload map[string]interface{}) (*CampaignJob, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job payload: %w", err)
		}
		raw = data
	}

	now := time.Now().UTC()
	return &CampaignJob{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		JobType:     jobType,
		Status:      JobStatusPending,
		Payload:     raw,
		Attempts:    0,
		MaxAttempts: DefaultMaxAttempts,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsTerminal returns true if the job will never be claimed again.
func (j *CampaignJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Locked reports whether worker lock fields are set. The invariant is
// all-or-nothing; Validate enforces it.
func (j *CampaignJob) Locked() bool {
	return j.LockedAt != nil && j.LockedBy != ""
}

// Validate checks the job row invariants.
func (j *CampaignJob) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("job ID is required")
	}
	if j.CampaignID == uuid.Nil {
		return fmt.Errorf("campaign ID is required")
	}
	if j.JobType == "" {
		return fmt.Errorf("job type is required")
	}
	if j.Attempts > j.MaxAttempts {
		return fmt.Errorf("attempts %d exceeds max_attempts %d", j.Attempts, j.MaxAttempts)
	}
	if (j.LockedAt == nil) != (j.LockedBy == "") {
		return fmt.Errorf("locked_at and locked_by must be set together")
	}
	if j.Status == JobStatusRunning {
		if j.LockedAt == nil || j.LockedBy == "" || j.ProcessingServerID == "" {
			return fmt.Errorf("running job must have locked_at, locked_by and processing_server_id set")
		}
	}
	return nil
}

// MergePayload merges resultData into the job payload without discarding
// prior payload content. Later keys win on conflict.
func (j *CampaignJob) MergePayload(resultData map[string]interface{}) error {
	if len(resultData) == 0 {
		return nil
	}

	merged := make(map[string]interface{})
	if len(j.Payload) > 0 {
		if err := json.Unmarshal(j.Payload, &merged); err != nil {
			return fmt.Errorf("failed to unmarshal existing payload: %w", err)
		}
	}
	for k, v := range resultData {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal merged payload: %w", err)
	}
	j.Payload = data
	return nil
}

// PayloadMap decodes the payload into a map. A nil payload decodes to an
// empty map.
func (j *CampaignJob) PayloadMap() (map[string]interface{}, error) {
	result := make(map[string]interface{})
	if len(j.Payload) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(j.Payload, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return result, nil
}
