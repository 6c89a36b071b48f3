// -----------------------------------------------------------------------
// Phase Reconciler - folds the raw event stream into canonical phase state
// -----------------------------------------------------------------------

package client

import (
	"time"

	"github.com/phuslu/log"

	"github.com/leadflowhq/leadflow/internal/models"
)

// Canonical phase keys, in pipeline order. Every backend phase-name variant
// normalizes onto one of these.
const (
	PhaseKeyDiscovery  = "discovery"
	PhaseKeyValidation = "validation"
	PhaseKeyExtraction = "extraction"
	PhaseKeyAnalysis   = "analysis"
)

// CanonicalPhaseKeys is the fixed ordered set of client-side phases
var CanonicalPhaseKeys = []string{
	PhaseKeyDiscovery,
	PhaseKeyValidation,
	PhaseKeyExtraction,
	PhaseKeyAnalysis,
}

var phaseLabels = map[string]string{
	PhaseKeyDiscovery:  "Domain Discovery",
	PhaseKeyValidation: "DNS Validation",
	PhaseKeyExtraction: "Keyword Extraction",
	PhaseKeyAnalysis:   "Analysis",
}

// phaseAliases maps every historical and backend phase-name variant onto its
// canonical key. Names not in this table are dropped, never guessed.
var phaseAliases = map[string]string{
	PhaseKeyDiscovery:         PhaseKeyDiscovery,
	PhaseKeyValidation:        PhaseKeyValidation,
	PhaseKeyExtraction:        PhaseKeyExtraction,
	PhaseKeyAnalysis:          PhaseKeyAnalysis,
	"domain_generation":       PhaseKeyDiscovery,
	"domain_discovery":        PhaseKeyDiscovery,
	"generation":              PhaseKeyDiscovery,
	"dns_validation":          PhaseKeyValidation,
	"dns":                     PhaseKeyValidation,
	"http_validation":         PhaseKeyExtraction,
	"http_keyword_validation": PhaseKeyExtraction,
	"keyword_validation":      PhaseKeyExtraction,
	"http_keyword":            PhaseKeyExtraction,
	"analytics":               PhaseKeyAnalysis,
	"analysis_and_enrichment": PhaseKeyAnalysis,
}

// NormalizePhaseKey maps a backend phase name to its canonical key. The
// second return is false for unrecognized names.
func NormalizePhaseKey(name string) (string, bool) {
	key, ok := phaseAliases[name]
	return key, ok
}

// ClientPhaseStatus is the client-side phase status vocabulary. It is wider
// than the server's: the UI distinguishes configuration states the server
// never stores.
type ClientPhaseStatus string

const (
	PhaseNotStarted ClientPhaseStatus = "not_started"
	PhaseReady      ClientPhaseStatus = "ready"
	PhaseConfigured ClientPhaseStatus = "configured"
	PhaseInProgress ClientPhaseStatus = "in_progress"
	PhasePaused     ClientPhaseStatus = "paused"
	PhaseCompleted  ClientPhaseStatus = "completed"
	PhaseFailed     ClientPhaseStatus = "failed"
)

// PhaseState is the reconciled view of one pipeline phase
type PhaseState struct {
	Key                string                 `json:"key"`
	Label              string                 `json:"label"`
	Status             ClientPhaseStatus      `json:"status"`
	ProgressPercentage float64                `json:"progressPercentage"`
	LastMessage        string                 `json:"lastMessage,omitempty"`
	ErrorMessage       string                 `json:"errorMessage,omitempty"`
	ErrorDetails       map[string]interface{} `json:"errorDetails,omitempty"`
	LastEventAt        *time.Time             `json:"lastEventAt,omitempty"`
	FailedAt           *time.Time             `json:"failedAt,omitempty"`
}

// ChangeCallback receives every successful merge: which phase changed and a
// snapshot of its full state after the merge.
type ChangeCallback func(phaseKey string, snapshot PhaseState)

// Reconciler folds a possibly-unordered, possibly-duplicated event stream
// into monotonically sensible per-phase state for one campaign.
type Reconciler struct {
	campaignID string
	states     map[string]*PhaseState
	completed  map[string]bool // (campaign, phase) pairs that already fired completion
	store      *MetaStore
	onChange   ChangeCallback
}

// NewReconciler creates a reconciler for one campaign. Phase states start at
// defaults; persisted message/error context is restored from the store, and
// the completion guard is seeded from persisted completion timestamps so a
// reload does not re-fire completions already recorded.
func NewReconciler(campaignID string, store *MetaStore, onChange ChangeCallback) *Reconciler {
	if store == nil {
		store = NewMetaStore(nil)
	}

	r := &Reconciler{
		campaignID: campaignID,
		states:     make(map[string]*PhaseState, len(CanonicalPhaseKeys)),
		completed:  make(map[string]bool),
		store:      store,
		onChange:   onChange,
	}

	persisted := store.Load(campaignID)
	for _, key := range CanonicalPhaseKeys {
		state := &PhaseState{
			Key:    key,
			Label:  phaseLabels[key],
			Status: PhaseNotStarted,
		}
		if meta, ok := persisted[key]; ok {
			state.LastMessage = meta.LastMessage
			state.ErrorMessage = meta.ErrorMessage
			state.ErrorDetails = meta.ErrorDetails
			state.LastEventAt = meta.LastEventAt
			state.FailedAt = meta.FailedAt
			if meta.CompletedAt != nil {
				r.completed[key] = true
			}
		}
		r.states[key] = state
	}

	return r
}

// CampaignID returns the campaign this reconciler is bound to
func (r *Reconciler) CampaignID() string {
	return r.campaignID
}

// Phase returns a snapshot of one phase's reconciled state
func (r *Reconciler) Phase(key string) (PhaseState, bool) {
	state, ok := r.states[key]
	if !ok {
		return PhaseState{}, false
	}
	return *state, true
}

// Phases returns snapshots of all phases in pipeline order
func (r *Reconciler) Phases() []PhaseState {
	out := make([]PhaseState, 0, len(CanonicalPhaseKeys))
	for _, key := range CanonicalPhaseKeys {
		out = append(out, *r.states[key])
	}
	return out
}

// HandleEvent applies one decoded event to the phase view. Events for other
// campaigns, unknown event types and unrecognized phase names are dropped.
func (r *Reconciler) HandleEvent(ev *models.CampaignEvent) {
	if ev == nil {
		return
	}
	if ev.Type == models.EventKeepAlive {
		return
	}
	if ev.CampaignID == "" {
		log.Warn().
			Str("event", string(ev.Type)).
			Msg("Dropping event without campaign_id")
		return
	}
	if ev.CampaignID != r.campaignID {
		return
	}

	switch payload := ev.Payload.(type) {
	case *models.ProgressPayload:
		key, ok := NormalizePhaseKey(payload.CurrentPhase)
		if !ok {
			r.dropUnknownPhase(ev, payload.CurrentPhase)
			return
		}
		r.ApplyProgress(key, payload.ProgressPct, payload.Message)

	case *models.PhaseStartedPayload:
		key, ok := NormalizePhaseKey(payload.Phase)
		if !ok {
			r.dropUnknownPhase(ev, payload.Phase)
			return
		}
		r.ApplyPhaseStarted(key, payload.Message)

	case *models.PhaseCompletedPayload:
		key, ok := NormalizePhaseKey(payload.Phase)
		if !ok {
			r.dropUnknownPhase(ev, payload.Phase)
			return
		}
		r.ApplyPhaseCompleted(key, payload.Message)

	case *models.PhaseFailedPayload:
		key, ok := NormalizePhaseKey(payload.Phase)
		if !ok {
			r.dropUnknownPhase(ev, payload.Phase)
			return
		}
		r.ApplyPhaseFailed(key, payload.Message, payload.Error, payload.ErrorDetails)

	case *models.DomainGeneratedPayload:
		if payload.Total > 0 {
			r.ApplyProgress(PhaseKeyDiscovery, float64(payload.Count)/float64(payload.Total)*100, "")
		}

	case *models.DomainValidatedPayload:
		if payload.Total > 0 {
			r.ApplyProgress(PhaseKeyValidation, float64(payload.Count)/float64(payload.Total)*100, "")
		}

	case *models.AnalysisCompletedPayload:
		r.ApplyPhaseCompleted(PhaseKeyAnalysis, "")

	case *models.AnalysisFailedPayload:
		r.ApplyPhaseFailed(PhaseKeyAnalysis, payload.Message, payload.Error, nil)

	case *models.CountersReconciledPayload, *models.ModeChangedPayload,
		*models.AnalysisReuseEnrichmentPayload, *models.ErrorPayload:
		// No per-phase state to merge

	default:
		log.Warn().
			Str("event", string(ev.Type)).
			Str("campaign_id", ev.CampaignID).
			Msg("Ignoring unknown event type")
	}
}

// ApplyProgress merges a progress report. Percent is clamped to [0,100]. At
// 100% a completion transition is synthesized unless this phase has already
// completed in this session - the explicit phase_completed event may never
// arrive.
func (r *Reconciler) ApplyProgress(phaseKey string, percent float64, message string) {
	state, ok := r.states[phaseKey]
	if !ok {
		return
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	now := time.Now().UTC()
	state.ProgressPercentage = percent
	state.LastEventAt = &now
	if message != "" {
		state.LastMessage = message
	}

	if percent >= 100 {
		if !r.completed[phaseKey] {
			r.completePhase(state, message, now)
		}
		return
	}

	if state.Status != PhaseCompleted && state.Status != PhaseFailed {
		state.Status = PhaseInProgress
	}

	r.persistAndNotify(state)
}

// ApplyPhaseStarted marks a phase running and clears stale error context
func (r *Reconciler) ApplyPhaseStarted(phaseKey, message string) {
	state, ok := r.states[phaseKey]
	if !ok {
		return
	}

	now := time.Now().UTC()
	state.Status = PhaseInProgress
	state.LastEventAt = &now
	if message != "" {
		state.LastMessage = message
	}

	// A restart supersedes any previous failure or completion
	state.ErrorMessage = ""
	state.ErrorDetails = nil
	state.FailedAt = nil
	delete(r.completed, phaseKey)

	r.persistAndNotify(state)
}

// ApplyPhaseCompleted marks a phase completed. Duplicate completions (or a
// phase_completed arriving after a synthesized 100%-progress completion) do
// not re-fire the change callback.
func (r *Reconciler) ApplyPhaseCompleted(phaseKey, message string) {
	state, ok := r.states[phaseKey]
	if !ok {
		return
	}
	if r.completed[phaseKey] {
		return
	}

	now := time.Now().UTC()
	state.LastEventAt = &now
	r.completePhase(state, message, now)
}

// ApplyPhaseFailed records a failure. The error message is always non-empty:
// the UI must never show "failed" with no explanation.
func (r *Reconciler) ApplyPhaseFailed(phaseKey, message, errMsg string, details map[string]interface{}) {
	state, ok := r.states[phaseKey]
	if !ok {
		return
	}

	now := time.Now().UTC()
	state.Status = PhaseFailed
	state.LastEventAt = &now
	state.FailedAt = &now

	userMessage := message
	if userMessage == "" {
		userMessage = errMsg
	}
	if userMessage == "" {
		userMessage = "Phase failed"
	}
	state.ErrorMessage = userMessage
	state.ErrorDetails = details
	if message != "" {
		state.LastMessage = message
	}

	r.persistAndNotify(state)
}

func (r *Reconciler) completePhase(state *PhaseState, message string, now time.Time) {
	r.completed[state.Key] = true
	state.Status = PhaseCompleted
	state.ProgressPercentage = 100
	state.ErrorMessage = ""
	state.ErrorDetails = nil
	state.FailedAt = nil
	if message != "" {
		state.LastMessage = message
	}

	meta := r.metaFor(state)
	meta.CompletedAt = &now
	r.store.Save(r.campaignID, state.Key, meta)

	if r.onChange != nil {
		r.onChange(state.Key, *state)
	}
}

func (r *Reconciler) persistAndNotify(state *PhaseState) {
	r.store.Save(r.campaignID, state.Key, r.metaFor(state))

	if r.onChange != nil {
		r.onChange(state.Key, *state)
	}
}

func (r *Reconciler) metaFor(state *PhaseState) PhaseMeta {
	meta := PhaseMeta{
		LastMessage:  state.LastMessage,
		ErrorMessage: state.ErrorMessage,
		ErrorDetails: state.ErrorDetails,
		LastEventAt:  state.LastEventAt,
		FailedAt:     state.FailedAt,
	}
	if r.completed[state.Key] {
		now := time.Now().UTC()
		meta.CompletedAt = &now
	}
	return meta
}

func (r *Reconciler) dropUnknownPhase(ev *models.CampaignEvent, phaseName string) {
	log.Warn().
		Str("event", string(ev.Type)).
		Str("phase", phaseName).
		Str("campaign_id", ev.CampaignID).
		Msg("Dropping event for unrecognized phase")
}
