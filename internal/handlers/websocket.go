package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/leadflowhq/leadflow/internal/common"
	"github.com/leadflowhq/leadflow/internal/interfaces"
	"github.com/leadflowhq/leadflow/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// clientState tracks one connected consumer: its optional campaign filter
// and the mutex serializing writes to its socket.
type clientState struct {
	mu         sync.Mutex
	campaignID string
}

// WebSocketHandler broadcasts campaign events to connected consumers. Each
// consumer may subscribe to a single campaign (?campaign_id=) or to the whole
// stream.
type WebSocketHandler struct {
	logger       arbor.ILogger
	eventService interfaces.EventService

	mu      sync.RWMutex
	clients map[*websocket.Conn]*clientState

	allowedEvents map[string]bool // Whitelist of events to broadcast (empty = allow all)

	throttleMu         sync.Mutex
	progressThrottlers map[string]*rate.Limiter // Per-campaign campaign_progress limiters
	throttleInterval   time.Duration

	keepAliveInterval time.Duration
	serverInstanceID  string // Unique ID generated on startup - clients use to detect server restart
}

// NewWebSocketHandler creates the broadcast handler and subscribes it to the
// internal event stream.
func NewWebSocketHandler(eventService interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:             logger,
		eventService:       eventService,
		clients:            make(map[*websocket.Conn]*clientState),
		allowedEvents:      make(map[string]bool),
		progressThrottlers: make(map[string]*rate.Limiter),
		throttleInterval:   time.Second,
		keepAliveInterval:  30 * time.Second,
		serverInstanceID:   common.NewServerInstanceID(),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		if d, err := time.ParseDuration(config.ProgressThrottle); err == nil && d > 0 {
			h.throttleInterval = d
		}
		if d, err := time.ParseDuration(config.KeepAliveInterval); err == nil && d > 0 {
			h.keepAliveInterval = d
		}
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Msg("WebSocket handler initialized with server instance ID")

	if eventService != nil {
		h.subscribeToCampaignEvents()
	}

	return h
}

// ServerInstanceID returns the per-process stream identity
func (h *WebSocketHandler) ServerInstanceID() string {
	return h.serverInstanceID
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	state := &clientState{campaignID: r.URL.Query().Get("campaign_id")}

	h.mu.Lock()
	h.clients[conn] = state
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().
		Str("campaign_id", state.campaignID).
		Int("total", clientCount).
		Msg("WebSocket client connected")

	h.sendHello(conn, state)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("remaining", remaining).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendHello sends the connection greeting carrying the server instance id
func (h *WebSocketHandler) sendHello(conn *websocket.Conn, state *clientState) {
	ev := &models.CampaignEvent{
		Type:       models.EventKeepAlive,
		CampaignID: "",
		Timestamp:  time.Now().UTC(),
		Payload:    &models.KeepAlivePayload{},
	}
	data, err := models.EncodeCampaignEvent(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode hello event")
		return
	}

	state.mu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, data)
	state.mu.Unlock()
	if writeErr != nil {
		h.logger.Warn().Err(writeErr).Msg("Failed to send hello to client")
	}
}

// BroadcastEvent sends an encoded campaign event to every consumer whose
// filter matches the event's campaign.
func (h *WebSocketHandler) BroadcastEvent(ev *models.CampaignEvent) {
	data, err := models.EncodeCampaignEvent(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Failed to encode campaign event")
		return
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.clients))
	states := make([]*clientState, 0, len(h.clients))
	for conn, state := range h.clients {
		if state.campaignID != "" && ev.CampaignID != "" && state.campaignID != ev.CampaignID {
			continue
		}
		targets = append(targets, conn)
		states = append(states, state)
	}
	h.mu.RUnlock()

	for i, conn := range targets {
		state := states[i]
		state.mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		state.mu.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Failed to send event to client")
		}
	}
}

// StartKeepAlive starts the heartbeat broadcaster. Consumers use it to reset
// their staleness watchdogs.
func (h *WebSocketHandler) StartKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(h.keepAliveInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.mu.RLock()
				clientCount := len(h.clients)
				h.mu.RUnlock()

				if clientCount > 0 {
					h.BroadcastEvent(&models.CampaignEvent{
						Type:      models.EventKeepAlive,
						Timestamp: time.Now().UTC(),
						Payload:   &models.KeepAlivePayload{},
					})
				}
			}
		}
	}()
}

// allowProgress applies the per-campaign throttle to campaign_progress
// events. Other event types are never throttled.
func (h *WebSocketHandler) allowProgress(campaignID string) bool {
	h.throttleMu.Lock()
	defer h.throttleMu.Unlock()

	limiter, ok := h.progressThrottlers[campaignID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.throttleInterval), 1)
		h.progressThrottlers[campaignID] = limiter
	}
	return limiter.Allow()
}

// subscribeToCampaignEvents bridges the internal pub/sub to the socket fan-out
func (h *WebSocketHandler) subscribeToCampaignEvents() {
	_ = h.eventService.Subscribe(interfaces.EventCampaignEvent, func(ctx context.Context, event interfaces.Event) error {
		ev, ok := event.Payload.(*models.CampaignEvent)
		if !ok {
			h.logger.Warn().Msg("Invalid campaign event payload type")
			return nil
		}

		// Check whitelist (empty allowedEvents = allow all)
		if len(h.allowedEvents) > 0 && !h.allowedEvents[string(ev.Type)] {
			return nil
		}

		// Throttle progress events so bursty workers cannot flood sockets
		if ev.Type == models.EventCampaignProgress && !h.allowProgress(ev.CampaignID) {
			return nil
		}

		h.BroadcastEvent(ev)
		return nil
	})
}
