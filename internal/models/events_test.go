package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCampaignEventRoundTrip(t *testing.T) {
	raw, err := EncodeCampaignEvent(&CampaignEvent{
		Type:       EventCampaignProgress,
		CampaignID: "camp-1",
		Timestamp:  time.Now().UTC(),
		Payload: &ProgressPayload{
			CurrentPhase: "dns_validation",
			ProgressPct:  42.5,
			Message:      "checked 425 of 1000",
		},
	})
	require.NoError(t, err)

	ev, err := DecodeCampaignEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventCampaignProgress, ev.Type)
	assert.Equal(t, "camp-1", ev.CampaignID)

	payload, ok := ev.Payload.(*ProgressPayload)
	require.True(t, ok)
	assert.Equal(t, "dns_validation", payload.CurrentPhase)
	assert.Equal(t, 42.5, payload.ProgressPct)
}

func TestDecodeCampaignEventRejectsUnknownType(t *testing.T) {
	_, err := DecodeCampaignEvent([]byte(`{"type":"quantum_flux","campaign_id":"camp-1"}`))
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDecodeCampaignEventRequiresCampaignID(t *testing.T) {
	_, err := DecodeCampaignEvent([]byte(`{"type":"phase_started","data":{"phase":"dns_validation"}}`))
	require.ErrorIs(t, err, ErrMissingCampaignID)
}

func TestDecodeKeepAliveNeedsNoCampaignID(t *testing.T) {
	ev, err := DecodeCampaignEvent([]byte(`{"type":"keep_alive"}`))
	require.NoError(t, err)
	assert.Equal(t, EventKeepAlive, ev.Type)
	assert.IsType(t, &KeepAlivePayload{}, ev.Payload)
}

func TestDecodeCampaignEventRejectsMalformedPayload(t *testing.T) {
	_, err := DecodeCampaignEvent([]byte(`{"type":"campaign_progress","campaign_id":"camp-1","data":{"progress_pct":"lots"}}`))
	require.Error(t, err)
}
