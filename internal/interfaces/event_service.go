package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

// Pipeline lifecycle events, emitted by the pipeline orchestrator
const (
	EventPipelineStarted        EventType = "pipeline.started"
	EventPipelineStageStarted   EventType = "pipeline.stage.started"
	EventPipelineStageCompleted EventType = "pipeline.stage.completed"
	EventPipelineStageFailed    EventType = "pipeline.stage.failed"
	EventPipelineCompleted      EventType = "pipeline.completed"
	EventPipelineCancelled      EventType = "pipeline.cancelled"
	EventPipelineFailed         EventType = "pipeline.failed"
	EventPipelineAlert          EventType = "pipeline.alert"
	EventPipelineStalled        EventType = "pipeline.stalled"
)

// Collaborator milestones, emitted by stage workers or the webhook intake
const (
	EventOrderValidated      EventType = "order.validated"
	EventOrderRejected       EventType = "order.rejected"
	EventRenderCompleted     EventType = "render.completed"
	EventRenderFailed        EventType = "render.failed"
	EventProductionSubmitted EventType = "production.submitted"
	EventProductionFailed    EventType = "production.failed"
	EventQualityApproved     EventType = "quality.approved"
	EventQualityRejected     EventType = "quality.rejected"
	EventFulfillmentReady    EventType = "fulfillment.ready"
	EventFulfillmentShipped  EventType = "fulfillment.shipped"
	EventFulfillmentFailed   EventType = "fulfillment.failed"
)

// E-commerce sync bridge events
const (
	EventSyncStarted   EventType = "sync.started"
	EventSyncCompleted EventType = "sync.completed"
	EventSyncFailed    EventType = "sync.failed"
)

// AllEventTypes lists every event the engine knows about.
func AllEventTypes() []EventType {
	return []EventType{
		EventPipelineStarted, EventPipelineStageStarted, EventPipelineStageCompleted,
		EventPipelineStageFailed, EventPipelineCompleted, EventPipelineCancelled,
		EventPipelineFailed, EventPipelineAlert, EventPipelineStalled,
		EventOrderValidated, EventOrderRejected,
		EventRenderCompleted, EventRenderFailed,
		EventProductionSubmitted, EventProductionFailed,
		EventQualityApproved, EventQualityRejected,
		EventFulfillmentReady, EventFulfillmentShipped, EventFulfillmentFailed,
		EventSyncStarted, EventSyncCompleted, EventSyncFailed,
	}
}

// IsKnownEventType reports whether t is one of AllEventTypes.
func IsKnownEventType(t EventType) bool {
	for _, known := range AllEventTypes() {
		if known == t {
			return true
		}
	}
	return false
}

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type. The returned id identifies this
	// registration for Unsubscribe.
	Subscribe(eventType EventType, handler EventHandler) (string, error)

	// Unsubscribe removes the registration with the given id
	Unsubscribe(eventType EventType, subscriptionID string) error

	// Publish delivers the event to every subscriber in subscription order.
	// Handler errors are logged and swallowed.
	Publish(ctx context.Context, event Event) error

	// PublishSync delivers like Publish but returns the joined handler errors
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
