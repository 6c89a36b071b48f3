package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/common"
	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

// StatusHandler reports application health and queue depth
type StatusHandler struct {
	jobStorage       interfaces.JobStorage
	serverInstanceID string
	startedAt        time.Time
	logger           arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(jobStorage interfaces.JobStorage, serverInstanceID string, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		jobStorage:       jobStorage,
		serverInstanceID: serverInstanceID,
		startedAt:        time.Now().UTC(),
		logger:           logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ctx := r.Context()
	jobCounts := make(map[string]int)
	for _, status := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusRunning,
		models.JobStatusCompleted,
		models.JobStatusFailed,
	} {
		count, err := h.jobStorage.CountJobsByStatus(ctx, status)
		if err != nil {
			h.logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to count jobs")
			continue
		}
		jobCounts[string(status)] = count
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"version":            common.Version,
		"build":              common.Build,
		"server_instance_id": h.serverInstanceID,
		"uptime_seconds":     int64(time.Since(h.startedAt).Seconds()),
		"jobs":               jobCounts,
	})
}
