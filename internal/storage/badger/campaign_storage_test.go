package badger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

func newTestCampaignStorage(t *testing.T) interfaces.CampaignStorage {
	t.Helper()

	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewCampaignStorage(&BadgerDB{store: store}, arbor.NewLogger())
}

func TestCampaignRoundTrip(t *testing.T) {
	storage := newTestCampaignStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	campaign := &models.Campaign{
		ID:                uuid.New(),
		Name:              "acme-leads",
		Status:            models.CampaignStatusDraft,
		CurrentPhase:      models.PhaseDomainGeneration,
		TargetDomainCount: 500,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, storage.SaveCampaign(ctx, campaign))

	// The uuid is the store key: the row must come back under the same id
	got, err := storage.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.ID, got.ID)
	assert.Equal(t, "acme-leads", got.Name)
	assert.Equal(t, int64(500), got.TargetDomainCount)

	got.Status = models.CampaignStatusRunning
	require.NoError(t, storage.SaveCampaign(ctx, got))

	updated, err := storage.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, updated.Status)
}

func TestListCampaignsFiltersByStatus(t *testing.T) {
	storage := newTestCampaignStorage(t)
	ctx := context.Background()

	for _, status := range []models.CampaignStatus{
		models.CampaignStatusDraft,
		models.CampaignStatusRunning,
		models.CampaignStatusRunning,
	} {
		now := time.Now().UTC()
		require.NoError(t, storage.SaveCampaign(ctx, &models.Campaign{
			ID:        uuid.New(),
			Name:      "campaign",
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	running, err := storage.ListCampaigns(ctx, models.CampaignStatusRunning)
	require.NoError(t, err)
	assert.Len(t, running, 2)

	all, err := storage.ListCampaigns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteCampaign(t *testing.T) {
	storage := newTestCampaignStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	campaign := &models.Campaign{
		ID:        uuid.New(),
		Name:      "doomed",
		Status:    models.CampaignStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, storage.SaveCampaign(ctx, campaign))
	require.NoError(t, storage.DeleteCampaign(ctx, campaign.ID))

	_, err := storage.GetCampaign(ctx, campaign.ID)
	require.Error(t, err)

	// Deleting a missing campaign is not an error
	require.NoError(t, storage.DeleteCampaign(ctx, campaign.ID))
}
