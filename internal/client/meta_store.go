// -----------------------------------------------------------------------
// Client-side persisted phase metadata - survives page reloads
// -----------------------------------------------------------------------

package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/phuslu/log"
)

const metaKeyPrefix = "campaignPhaseMeta:"

// PhaseMeta is the per-phase slice of state that survives a reload. Live
// connection and progress state always resets to defaults; only message and
// error context is worth keeping.
type PhaseMeta struct {
	LastMessage  string                 `json:"lastMessage,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	ErrorDetails map[string]interface{} `json:"errorDetails,omitempty"`
	LastEventAt  *time.Time             `json:"lastEventAt,omitempty"`
	FailedAt     *time.Time             `json:"failedAt,omitempty"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
}

type campaignPhaseMeta struct {
	Phases map[string]PhaseMeta `json:"phases"`
}

// StorageBackend abstracts the session-scoped key/value store the metadata
// lives in. Implementations must be safe for single-threaded callback use;
// MetaStore adds its own locking.
type StorageBackend interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// MemoryBackend is an in-process StorageBackend, the default for tests and
// headless consumers.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]string)}
}

func (b *MemoryBackend) Get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.entries[key]
	return v, ok
}

func (b *MemoryBackend) Set(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = value
}

func (b *MemoryBackend) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// MetaStore persists per-campaign phase metadata. Absent or corrupt entries
// read back as empty metadata, never as an error.
type MetaStore struct {
	mu      sync.Mutex
	backend StorageBackend
}

// NewMetaStore creates a metadata store over the given backend. A nil backend
// gets an in-memory one.
func NewMetaStore(backend StorageBackend) *MetaStore {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &MetaStore{backend: backend}
}

// Load returns the persisted phase metadata for a campaign. Corrupt entries
// are dropped with a warning.
func (s *MetaStore) Load(campaignID string) map[string]PhaseMeta {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.backend.Get(metaKeyPrefix + campaignID)
	if !ok || raw == "" {
		return map[string]PhaseMeta{}
	}

	var stored campaignPhaseMeta
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		log.Warn().
			Str("campaign_id", campaignID).
			Err(err).
			Msg("Corrupt persisted phase metadata, discarding")
		s.backend.Delete(metaKeyPrefix + campaignID)
		return map[string]PhaseMeta{}
	}

	if stored.Phases == nil {
		return map[string]PhaseMeta{}
	}
	return stored.Phases
}

// Save merges one phase's metadata into the campaign's persisted record
func (s *MetaStore) Save(campaignID, phaseKey string, meta PhaseMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	phases := s.loadLocked(campaignID)
	phases[phaseKey] = meta

	data, err := json.Marshal(campaignPhaseMeta{Phases: phases})
	if err != nil {
		log.Warn().
			Str("campaign_id", campaignID).
			Err(err).
			Msg("Failed to serialize phase metadata")
		return
	}
	s.backend.Set(metaKeyPrefix+campaignID, string(data))
}

// Clear removes all persisted metadata for a campaign
func (s *MetaStore) Clear(campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend.Delete(metaKeyPrefix + campaignID)
}

func (s *MetaStore) loadLocked(campaignID string) map[string]PhaseMeta {
	raw, ok := s.backend.Get(metaKeyPrefix + campaignID)
	if !ok || raw == "" {
		return map[string]PhaseMeta{}
	}
	var stored campaignPhaseMeta
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.Phases == nil {
		return map[string]PhaseMeta{}
	}
	return stored.Phases
}
