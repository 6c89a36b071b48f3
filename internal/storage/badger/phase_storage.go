package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

// PhaseStorage implements the PhaseStorage interface for Badger
type PhaseStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPhaseStorage creates a new PhaseStorage instance
func NewPhaseStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PhaseStorage {
	return &PhaseStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PhaseStorage) SavePhase(ctx context.Context, phase *models.CampaignPhase) error {
	if phase.ID == "" {
		return fmt.Errorf("phase ID is required")
	}

	if err := s.db.Store().Upsert(phase.ID, phase); err != nil {
		return fmt.Errorf("failed to save phase: %w", err)
	}
	return nil
}

// SavePhases writes a set of phase rows together. Badger serializes writes
// internally; callers guard multi-row invariants with the state machine's
// per-campaign mutex.
func (s *PhaseStorage) SavePhases(ctx context.Context, phases []*models.CampaignPhase) error {
	for _, phase := range phases {
		if err := s.SavePhase(ctx, phase); err != nil {
			return err
		}
	}
	return nil
}

func (s *PhaseStorage) GetPhase(ctx context.Context, campaignID uuid.UUID, phaseType models.PhaseType) (*models.CampaignPhase, error) {
	var phase models.CampaignPhase
	key := models.PhaseKey(campaignID, phaseType)
	if err := s.db.Store().Get(key, &phase); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("phase not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get phase: %w", err)
	}
	return &phase, nil
}

func (s *PhaseStorage) ListPhases(ctx context.Context, campaignID uuid.UUID) ([]*models.CampaignPhase, error) {
	var phases []models.CampaignPhase
	if err := s.db.Store().Find(&phases, badgerhold.Where("CampaignID").Eq(campaignID)); err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}

	sort.Slice(phases, func(i, j int) bool {
		return phases[i].PhaseOrder < phases[j].PhaseOrder
	})

	result := make([]*models.CampaignPhase, len(phases))
	for i := range phases {
		result[i] = &phases[i]
	}
	return result, nil
}
