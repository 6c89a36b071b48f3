package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leadflowhq/leadflow/internal/models"
)

// CampaignStorage persists campaigns
type CampaignStorage interface {
	SaveCampaign(ctx context.Context, campaign *models.Campaign) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error)
	DeleteCampaign(ctx context.Context, id uuid.UUID) error
}

// PhaseStorage persists campaign phase rows
type PhaseStorage interface {
	SavePhase(ctx context.Context, phase *models.CampaignPhase) error

	// SavePhases writes a set of phase rows as one batch
	SavePhases(ctx context.Context, phases []*models.CampaignPhase) error

	GetPhase(ctx context.Context, campaignID uuid.UUID, phaseType models.PhaseType) (*models.CampaignPhase, error)

	// ListPhases returns a campaign's phase rows in pipeline order
	ListPhases(ctx context.Context, campaignID uuid.UUID) ([]*models.CampaignPhase, error)
}

// JobClaimFilter selects which jobs a Dequeue call may claim
type JobClaimFilter struct {
	JobTypes []models.JobType
	MaxJobs  int
}

// JobStorage persists campaign jobs and implements the claim protocol
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.CampaignJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.CampaignJob, error)
	ListJobs(ctx context.Context, campaignID uuid.UUID) ([]*models.CampaignJob, error)

	// HasActiveJob reports whether a non-terminal job of the given type
	// exists for the campaign
	HasActiveJob(ctx context.Context, campaignID uuid.UUID, jobType models.JobType) (bool, error)

	// ClaimJobs atomically claims up to filter.MaxJobs eligible jobs for the
	// worker. Claimed jobs are returned already transitioned to running with
	// lock fields set and attempts incremented. Two concurrent calls never
	// claim the same job.
	ClaimJobs(ctx context.Context, workerID, serverID string, filter JobClaimFilter) ([]*models.CampaignJob, error)

	// DeleteCompletedBefore deletes up to batchSize completed jobs older than
	// cutoff and returns how many were removed
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int, error)

	// RequeueOrphanedJobs resets jobs left running by a previous process back
	// to pending with lock fields cleared
	RequeueOrphanedJobs(ctx context.Context, serverID string) (int, error)

	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)
}

// DomainStorage persists generated domains, the work set the validation
// phases page through
type DomainStorage interface {
	// SaveDomains upserts a batch of domain rows
	SaveDomains(ctx context.Context, domains []*models.Domain) error

	// ListDomains returns a deterministic page of the campaign's domains,
	// sorted by name. When dnsValidOnly is set, only DNS-valid rows count
	// toward the page.
	ListDomains(ctx context.Context, campaignID uuid.UUID, offset, limit int, dnsValidOnly bool) ([]*models.Domain, error)

	CountDomains(ctx context.Context, campaignID uuid.UUID, dnsValidOnly bool) (int64, error)
}

// KeywordStorage persists keyword sets for http_keyword_validation
type KeywordStorage interface {
	SaveKeywordSet(ctx context.Context, set *models.KeywordSet) error
	GetKeywordSet(ctx context.Context, id string) (*models.KeywordSet, error)
	ListActiveKeywordSets(ctx context.Context) ([]*models.KeywordSet, error)
}

// StorageManager bundles the storage interfaces behind one lifecycle
type StorageManager interface {
	CampaignStorage() CampaignStorage
	PhaseStorage() PhaseStorage
	JobStorage() JobStorage
	DomainStorage() DomainStorage
	KeywordStorage() KeywordStorage
	Close() error
}
