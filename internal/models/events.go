// -----------------------------------------------------------------------
// Campaign Events - wire contract for the per-campaign event stream
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CampaignEventType discriminates the event union on the wire.
type CampaignEventType string

const (
	EventCampaignProgress        CampaignEventType = "campaign_progress"
	EventPhaseStarted            CampaignEventType = "phase_started"
	EventPhaseCompleted          CampaignEventType = "phase_completed"
	EventPhaseFailed             CampaignEventType = "phase_failed"
	EventDomainGenerated         CampaignEventType = "domain_generated"
	EventDomainValidated         CampaignEventType = "domain_validated"
	EventAnalysisCompleted       CampaignEventType = "analysis_completed"
	EventAnalysisFailed          CampaignEventType = "analysis_failed"
	EventAnalysisReuseEnrichment CampaignEventType = "analysis_reuse_enrichment"
	EventCountersReconciled      CampaignEventType = "counters_reconciled"
	EventModeChanged             CampaignEventType = "mode_changed"
	EventKeepAlive               CampaignEventType = "keep_alive"
	EventError                   CampaignEventType = "error"
)

// ErrUnknownEventType is returned by DecodeCampaignEvent for event names not
// in the closed union. Consumers log and drop these rather than failing.
var ErrUnknownEventType = errors.New("unknown campaign event type")

// ErrMissingCampaignID marks a protocol violation: an event that requires
// attribution arrived without a campaign id. Such events are never applied to
// a guessed campaign.
var ErrMissingCampaignID = errors.New("campaign event missing campaign_id")

// EventPayload is implemented by every variant of the event union.
type EventPayload interface {
	EventType() CampaignEventType
}

// ProgressPayload carries aggregate progress for the campaign's active phase.
type ProgressPayload struct {
	CurrentPhase   string  `json:"current_phase"`
	ProgressPct    float64 `json:"progress_pct"`
	ItemsProcessed int64   `json:"items_processed"`
	ItemsTotal     int64   `json:"items_total"`
	Status         string  `json:"status"`
	Message        string  `json:"message,omitempty"`
}

func (ProgressPayload) EventType() CampaignEventType { return EventCampaignProgress }

// PhaseStartedPayload announces a phase transition into running.
type PhaseStartedPayload struct {
	Phase   string `json:"phase"`
	Message string `json:"message,omitempty"`
}

func (PhaseStartedPayload) EventType() CampaignEventType { return EventPhaseStarted }

// PhaseCompletedPayload announces a phase completing, with optional results.
type PhaseCompletedPayload struct {
	Phase   string                 `json:"phase"`
	Message string                 `json:"message,omitempty"`
	Results map[string]interface{} `json:"results,omitempty"`
}

func (PhaseCompletedPayload) EventType() CampaignEventType { return EventPhaseCompleted }

// PhaseFailedPayload announces a phase failure. Message and Error may both be
// absent on the wire; consumers must synthesize a user-facing message.
type PhaseFailedPayload struct {
	Phase        string                 `json:"phase"`
	Message      string                 `json:"message,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty"`
}

func (PhaseFailedPayload) EventType() CampaignEventType { return EventPhaseFailed }

// DomainGeneratedPayload is emitted per generated-domain batch.
type DomainGeneratedPayload struct {
	Domain string `json:"domain,omitempty"`
	Count  int64  `json:"count"`
	Total  int64  `json:"total"`
}

func (DomainGeneratedPayload) EventType() CampaignEventType { return EventDomainGenerated }

// DomainValidatedPayload is emitted per validated-domain batch.
type DomainValidatedPayload struct {
	Domain string `json:"domain,omitempty"`
	Valid  bool   `json:"valid"`
	Count  int64  `json:"count"`
	Total  int64  `json:"total"`
}

func (DomainValidatedPayload) EventType() CampaignEventType { return EventDomainValidated }

// AnalysisCompletedPayload carries the final analysis summary.
type AnalysisCompletedPayload struct {
	Results map[string]interface{} `json:"results,omitempty"`
}

func (AnalysisCompletedPayload) EventType() CampaignEventType { return EventAnalysisCompleted }

// AnalysisFailedPayload announces an analysis failure.
type AnalysisFailedPayload struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (AnalysisFailedPayload) EventType() CampaignEventType { return EventAnalysisFailed }

// AnalysisReuseEnrichmentPayload signals prior analysis results were reused.
type AnalysisReuseEnrichmentPayload struct {
	Source string `json:"source,omitempty"`
	Count  int64  `json:"count"`
}

func (AnalysisReuseEnrichmentPayload) EventType() CampaignEventType {
	return EventAnalysisReuseEnrichment
}

// CountersReconciledPayload carries authoritative counters after a server-side
// reconciliation pass.
type CountersReconciledPayload struct {
	Generated     int64 `json:"generated"`
	Validated     int64 `json:"validated"`
	HTTPValidated int64 `json:"http_validated"`
}

func (CountersReconciledPayload) EventType() CampaignEventType { return EventCountersReconciled }

// ModeChangedPayload announces a campaign execution mode change.
type ModeChangedPayload struct {
	Mode string `json:"mode"`
}

func (ModeChangedPayload) EventType() CampaignEventType { return EventModeChanged }

// KeepAlivePayload is a heartbeat with no content.
type KeepAlivePayload struct{}

func (KeepAlivePayload) EventType() CampaignEventType { return EventKeepAlive }

// ErrorPayload carries a transport-level error message.
type ErrorPayload struct {
	Message string `json:"message,omitempty"`
}

func (ErrorPayload) EventType() CampaignEventType { return EventError }

// CampaignEvent is the decoded envelope: type + attribution + typed payload.
type CampaignEvent struct {
	Type       CampaignEventType
	CampaignID string
	Timestamp  time.Time
	Payload    EventPayload
}

// wireEvent is the raw envelope as serialized on the wire.
type wireEvent struct {
	Type       CampaignEventType `json:"type"`
	CampaignID string            `json:"campaign_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Data       json.RawMessage   `json:"data,omitempty"`
}

// EncodeCampaignEvent serializes an event for the stream.
func EncodeCampaignEvent(ev *CampaignEvent) ([]byte, error) {
	var data json.RawMessage
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}
		data = raw
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return json.Marshal(wireEvent{
		Type:       ev.Type,
		CampaignID: ev.CampaignID,
		Timestamp:  ts,
		Data:       data,
	})
}

// DecodeCampaignEvent parses a wire message into a typed event. Unknown event
// names return ErrUnknownEventType; attributable events without a campaign id
// return ErrMissingCampaignID. keep_alive is the only variant exempt from
// attribution.
func DecodeCampaignEvent(raw []byte) (*CampaignEvent, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("malformed campaign event: %w", err)
	}

	var payload EventPayload
	switch wire.Type {
	case EventCampaignProgress:
		payload = &ProgressPayload{}
	case EventPhaseStarted:
		payload = &PhaseStartedPayload{}
	case EventPhaseCompleted:
		payload = &PhaseCompletedPayload{}
	case EventPhaseFailed:
		payload = &PhaseFailedPayload{}
	case EventDomainGenerated:
		payload = &DomainGeneratedPayload{}
	case EventDomainValidated:
		payload = &DomainValidatedPayload{}
	case EventAnalysisCompleted:
		payload = &AnalysisCompletedPayload{}
	case EventAnalysisFailed:
		payload = &AnalysisFailedPayload{}
	case EventAnalysisReuseEnrichment:
		payload = &AnalysisReuseEnrichmentPayload{}
	case EventCountersReconciled:
		payload = &CountersReconciledPayload{}
	case EventModeChanged:
		payload = &ModeChangedPayload{}
	case EventKeepAlive:
		payload = &KeepAlivePayload{}
	case EventError:
		payload = &ErrorPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, wire.Type)
	}

	if wire.Type != EventKeepAlive && wire.CampaignID == "" {
		return nil, ErrMissingCampaignID
	}

	if len(wire.Data) > 0 {
		if err := json.Unmarshal(wire.Data, payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", wire.Type, err)
		}
	}

	return &CampaignEvent{
		Type:       wire.Type,
		CampaignID: wire.CampaignID,
		Timestamp:  wire.Timestamp,
		Payload:    payload,
	}, nil
}
