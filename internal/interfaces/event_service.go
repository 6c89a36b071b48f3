package interfaces

import "context"

// EventType identifies internal pub/sub topics
type EventType string

const (
	// EventCampaignEvent carries a models.CampaignEvent for broadcast
	EventCampaignEvent EventType = "campaign_event"

	// EventCampaignStarted fires when a campaign begins its pipeline
	EventCampaignStarted EventType = "campaign_started"

	// EventJobCompleted fires after a job reaches a terminal status
	EventJobCompleted EventType = "job_completed"
)

// Event is an internal pub/sub message
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// EventHandler processes a published event
type EventHandler func(ctx context.Context, event Event) error

// EventService provides in-process publish/subscribe for decoupling the
// orchestration core from its observers (WebSocket broadcast, audit logging).
type EventService interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Unsubscribe removes all handlers for an event type
	Unsubscribe(eventType EventType) error

	// Publish sends an event to subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync sends an event and waits for all handlers to finish
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
