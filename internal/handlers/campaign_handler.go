package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/phases"
)

// CampaignHandler handles campaign CRUD and pipeline control requests
type CampaignHandler struct {
	campaigns    interfaces.CampaignStorage
	phaseStorage interfaces.PhaseStorage
	stateMachine *phases.StateMachine
	logger       arbor.ILogger
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaigns interfaces.CampaignStorage, phaseStorage interfaces.PhaseStorage, stateMachine *phases.StateMachine, logger arbor.ILogger) *CampaignHandler {
	return &CampaignHandler{
		campaigns:    campaigns,
		phaseStorage: phaseStorage,
		stateMachine: stateMachine,
		logger:       logger,
	}
}

// CreateCampaignRequest is the body for POST /api/campaigns
type CreateCampaignRequest struct {
	Name              string                   `json:"name"`
	TargetDomainCount int64                    `json:"target_domain_count"`
	GenerationParams  *models.GenerationParams `json:"generation_params"`
	KeywordSetID      string                   `json:"keyword_set_id,omitempty"`
}

// CreateCampaignHandler handles POST /api/campaigns
func (h *CampaignHandler) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := DecodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "Campaign name is required")
		return
	}
	if req.TargetDomainCount <= 0 {
		WriteError(w, http.StatusBadRequest, "target_domain_count must be positive")
		return
	}

	now := time.Now().UTC()
	campaign := &models.Campaign{
		ID:                uuid.New(),
		Name:              req.Name,
		Status:            models.CampaignStatusDraft,
		TargetDomainCount: req.TargetDomainCount,
		GenerationParams:  req.GenerationParams,
		KeywordSetID:      req.KeywordSetID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := h.campaigns.SaveCampaign(r.Context(), campaign); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save campaign")
		WriteError(w, http.StatusInternalServerError, "Failed to create campaign")
		return
	}

	h.logger.Info().
		Str("campaign_id", campaign.ID.String()).
		Str("name", campaign.Name).
		Msg("Campaign created")

	WriteJSON(w, http.StatusCreated, campaign)
}

// ListCampaignsHandler handles GET /api/campaigns?status=running
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.CampaignStatus(r.URL.Query().Get("status"))

	campaigns, err := h.campaigns.ListCampaigns(r.Context(), status)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list campaigns")
		WriteError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"count":     len(campaigns),
	})
}

// GetCampaignHandler handles GET /api/campaigns/{id}
func (h *CampaignHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := PathCampaignID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Valid campaign ID is required")
		return
	}

	campaign, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Campaign not found")
			return
		}
		h.logger.Error().Err(err).Str("campaign_id", id.String()).Msg("Failed to get campaign")
		WriteError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}

	WriteJSON(w, http.StatusOK, campaign)
}

// GetPhasesHandler handles GET /api/campaigns/{id}/phases
func (h *CampaignHandler) GetPhasesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := PathCampaignID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Valid campaign ID is required")
		return
	}

	phaseRows, err := h.phaseStorage.ListPhases(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("campaign_id", id.String()).Msg("Failed to list phases")
		WriteError(w, http.StatusInternalServerError, "Failed to list phases")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"phases":      phaseRows,
	})
}

// DeleteCampaignHandler handles DELETE /api/campaigns/{id}
func (h *CampaignHandler) DeleteCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := PathCampaignID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Valid campaign ID is required")
		return
	}

	campaign, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Campaign not found")
			return
		}
		h.logger.Error().Err(err).Str("campaign_id", id.String()).Msg("Failed to get campaign")
		WriteError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}

	if campaign.Status == models.CampaignStatusRunning {
		WriteError(w, http.StatusConflict, "Cannot delete a running campaign; pause it first")
		return
	}

	if err := h.campaigns.DeleteCampaign(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("campaign_id", id.String()).Msg("Failed to delete campaign")
		WriteError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}

	WriteSuccess(w, "Campaign deleted")
}

// StartCampaignRequest is the body for POST /api/campaigns/{id}/start
type StartCampaignRequest struct {
	UserID string `json:"user_id,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// StartCampaignHandler handles POST /api/campaigns/{id}/start
func (h *CampaignHandler) StartCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := PathCampaignID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Valid campaign ID is required")
		return
	}

	var req StartCampaignRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := DecodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	result, err := h.stateMachine.Start(r.Context(), id, req.UserID, req.Force)
	if err != nil {
		h.logger.Warn().Err(err).Str("campaign_id", id.String()).Msg("Campaign start rejected")
		WriteJSON(w, http.StatusConflict, result)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// AdvanceCampaignRequest is the body for POST /api/campaigns/{id}/advance
type AdvanceCampaignRequest struct {
	UserID string `json:"user_id,omitempty"`

	// Threshold overrides the configured completion threshold; 0 means use
	// the configured value.
	Threshold float64 `json:"threshold,omitempty"`
}

// AdvanceCampaignHandler handles POST /api/campaigns/{id}/advance
func (h *CampaignHandler) AdvanceCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := PathCampaignID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Valid campaign ID is required")
		return
	}

	var req AdvanceCampaignRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := DecodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = h.stateMachine.Threshold()
	}

	result, err := h.stateMachine.Advance(r.Context(), id, req.UserID, threshold)
	if err != nil {
		h.logger.Warn().Err(err).Str("campaign_id", id.String()).Msg("Campaign advance rejected")
		WriteJSON(w, http.StatusConflict, result)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// PauseCampaignHandler handles POST /api/campaigns/{id}/pause
func (h *CampaignHandler) PauseCampaignHandler(w http.ResponseWriter, r *http.Request) {
	h.controlCampaign(w, r, h.stateMachine.Pause)
}

// ResumeCampaignHandler handles POST /api/campaigns/{id}/resume
func (h *CampaignHandler) ResumeCampaignHandler(w http.ResponseWriter, r *http.Request) {
	h.controlCampaign(w, r, h.stateMachine.Resume)
}

// CompletionHandler handles GET /api/campaigns/{id}/completion. It reports the
// current phase completion rate and auto-advances when the threshold is met.
func (h *CampaignHandler) CompletionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := PathCampaignID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Valid campaign ID is required")
		return
	}

	status, err := h.stateMachine.CheckCompletion(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("campaign_id", id.String()).Msg("Completion check failed")
		WriteError(w, http.StatusInternalServerError, "Completion check failed")
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

func (h *CampaignHandler) controlCampaign(w http.ResponseWriter, r *http.Request, control func(ctx context.Context, id uuid.UUID, userID string) (*phases.ControlResult, error)) {
	id, ok := PathCampaignID(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Valid campaign ID is required")
		return
	}

	userID := r.URL.Query().Get("user_id")
	action := strings.TrimPrefix(r.URL.Path[strings.LastIndex(r.URL.Path, "/"):], "/")

	result, err := control(r.Context(), id, userID)
	if err != nil {
		h.logger.Warn().Err(err).Str("campaign_id", id.String()).Str("action", action).Msg("Campaign control rejected")
		WriteJSON(w, http.StatusConflict, result)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
