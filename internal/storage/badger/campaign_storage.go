package badger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

// CampaignStorage implements the CampaignStorage interface for Badger
type CampaignStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCampaignStorage creates a new CampaignStorage instance
func NewCampaignStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CampaignStorage {
	return &CampaignStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CampaignStorage) SaveCampaign(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == uuid.Nil {
		return fmt.Errorf("campaign ID is required")
	}

	if err := s.db.Store().Upsert(campaign.ID, campaign); err != nil {
		return fmt.Errorf("failed to save campaign: %w", err)
	}
	return nil
}

func (s *CampaignStorage) GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := s.db.Store().Get(id, &campaign); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("campaign not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &campaign, nil
}

func (s *CampaignStorage) ListCampaigns(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	query := badgerhold.Where("ID").Ne(uuid.Nil)
	if status != "" {
		query = badgerhold.Where("Status").Eq(status)
	}

	var campaigns []models.Campaign
	if err := s.db.Store().Find(&campaigns, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	result := make([]*models.Campaign, len(campaigns))
	for i := range campaigns {
		result[i] = &campaigns[i]
	}
	return result, nil
}

func (s *CampaignStorage) DeleteCampaign(ctx context.Context, id uuid.UUID) error {
	if err := s.db.Store().Delete(id, &models.Campaign{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	return nil
}
