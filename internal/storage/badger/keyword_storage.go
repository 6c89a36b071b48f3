package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

// KeywordStorage implements the KeywordStorage interface for Badger
type KeywordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKeywordStorage creates a new KeywordStorage instance
func NewKeywordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeywordStorage {
	return &KeywordStorage{
		db:     db,
		logger: logger,
	}
}

func (s *KeywordStorage) SaveKeywordSet(ctx context.Context, set *models.KeywordSet) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("invalid keyword set: %w", err)
	}

	if err := s.db.Store().Upsert(set.ID, set); err != nil {
		return fmt.Errorf("failed to save keyword set: %w", err)
	}
	return nil
}

func (s *KeywordStorage) GetKeywordSet(ctx context.Context, id string) (*models.KeywordSet, error) {
	var set models.KeywordSet
	if err := s.db.Store().Get(id, &set); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("keyword set not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get keyword set: %w", err)
	}
	return &set, nil
}

func (s *KeywordStorage) ListActiveKeywordSets(ctx context.Context) ([]*models.KeywordSet, error) {
	var sets []models.KeywordSet
	if err := s.db.Store().Find(&sets, badgerhold.Where("Active").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list keyword sets: %w", err)
	}

	result := make([]*models.KeywordSet, len(sets))
	for i := range sets {
		result[i] = &sets[i]
	}
	return result, nil
}
