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

// DomainStorage implements the DomainStorage interface for Badger
type DomainStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDomainStorage creates a new DomainStorage instance
func NewDomainStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DomainStorage {
	return &DomainStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DomainStorage) SaveDomains(ctx context.Context, domains []*models.Domain) error {
	for _, d := range domains {
		if d.ID == "" {
			return fmt.Errorf("domain ID is required")
		}
		if err := s.db.Store().Upsert(d.ID, d); err != nil {
			return fmt.Errorf("failed to save domain %s: %w", d.Domain, err)
		}
	}
	return nil
}

// ListDomains returns a page of the campaign's domains sorted by name so that
// offset+limit pages are stable across calls.
func (s *DomainStorage) ListDomains(ctx context.Context, campaignID uuid.UUID, offset, limit int, dnsValidOnly bool) ([]*models.Domain, error) {
	rows, err := s.campaignDomains(campaignID, dnsValidOnly)
	if err != nil {
		return nil, err
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	result := make([]*models.Domain, len(rows))
	for i := range rows {
		d := rows[i]
		result[i] = &d
	}
	return result, nil
}

func (s *DomainStorage) CountDomains(ctx context.Context, campaignID uuid.UUID, dnsValidOnly bool) (int64, error) {
	rows, err := s.campaignDomains(campaignID, dnsValidOnly)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (s *DomainStorage) campaignDomains(campaignID uuid.UUID, dnsValidOnly bool) ([]models.Domain, error) {
	var domains []models.Domain
	if err := s.db.Store().Find(&domains, badgerhold.Where("CampaignID").Eq(campaignID)); err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	if dnsValidOnly {
		filtered := domains[:0]
		for _, d := range domains {
			if d.DNSValid {
				filtered = append(filtered, d)
			}
		}
		domains = filtered
	}

	sort.Slice(domains, func(i, j int) bool {
		return domains[i].Domain < domains[j].Domain
	})
	return domains, nil
}
