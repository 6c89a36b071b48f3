// -----------------------------------------------------------------------
// Pipeline workers - the per-phase job executors behind the worker pool
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

// Service holds the shared collaborators for all pipeline workers
type Service struct {
	campaigns interfaces.CampaignStorage
	domains   interfaces.DomainStorage
	keywords  interfaces.KeywordStorage
	events    interfaces.EventService
	logger    arbor.ILogger

	resolver   *net.Resolver
	httpClient *http.Client

	// Serializes read-modify-write updates of campaign counters across
	// concurrent batch workers
	counterMu sync.Mutex
}

// NewService creates the worker service
func NewService(storage interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		campaigns: storage.CampaignStorage(),
		domains:   storage.DomainStorage(),
		keywords:  storage.KeywordStorage(),
		events:    events,
		logger:    logger,
		resolver:  net.DefaultResolver,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// updateCampaign applies fn to the campaign row under the counter mutex so
// concurrent batch jobs never lose increments.
func (s *Service) updateCampaign(ctx context.Context, campaignID uuid.UUID, fn func(*models.Campaign)) (*models.Campaign, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	campaign, err := s.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	fn(campaign)
	campaign.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.SaveCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *Service) publishEvent(ctx context.Context, ev *models.CampaignEvent) {
	if s.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventCampaignEvent,
		Payload: ev,
	}); err != nil {
		s.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to publish campaign event")
	}
}

func (s *Service) publishProgress(ctx context.Context, campaign *models.Campaign, rate float64, processed, total int64, message string) {
	s.publishEvent(ctx, &models.CampaignEvent{
		Type:       models.EventCampaignProgress,
		CampaignID: campaign.ID.String(),
		Payload: &models.ProgressPayload{
			CurrentPhase:   string(campaign.CurrentPhase),
			ProgressPct:    rate,
			ItemsProcessed: processed,
			ItemsTotal:     total,
			Status:         string(campaign.Status),
			Message:        message,
		},
	})
}

// batchWindow reads the offset/batch_size pair from a batch job payload
func batchWindow(job *models.CampaignJob) (offset, limit int, err error) {
	payload, err := job.PayloadMap()
	if err != nil {
		return 0, 0, err
	}

	// JSON numbers decode as float64
	if v, ok := payload["offset"].(float64); ok {
		offset = int(v)
	}
	if v, ok := payload["batch_size"].(float64); ok {
		limit = int(v)
	}
	if limit <= 0 {
		return 0, 0, fmt.Errorf("job %s has no batch_size in payload", job.ID)
	}
	return offset, limit, nil
}
