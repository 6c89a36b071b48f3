package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/common"
	"github.com/leadflowhq/leadflow/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	campaign interfaces.CampaignStorage
	phase    interfaces.PhaseStorage
	job      interfaces.JobStorage
	domain   interfaces.DomainStorage
	keyword  interfaces.KeywordStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		campaign: NewCampaignStorage(db, logger),
		phase:    NewPhaseStorage(db, logger),
		job:      NewJobStorage(db, logger),
		domain:   NewDomainStorage(db, logger),
		keyword:  NewKeywordStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// CampaignStorage returns the Campaign storage interface
func (m *Manager) CampaignStorage() interfaces.CampaignStorage {
	return m.campaign
}

// PhaseStorage returns the Phase storage interface
func (m *Manager) PhaseStorage() interfaces.PhaseStorage {
	return m.phase
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// DomainStorage returns the Domain storage interface
func (m *Manager) DomainStorage() interfaces.DomainStorage {
	return m.domain
}

// KeywordStorage returns the Keyword storage interface
func (m *Manager) KeywordStorage() interfaces.KeywordStorage {
	return m.keyword
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
