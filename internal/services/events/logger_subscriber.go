package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case *models.StageEvent:
			logEvent = logEvent.Str("pipeline_id", payload.PipelineID).Str("order_id", payload.OrderID).Str("stage", string(payload.Stage))
			if payload.Error != "" {
				logEvent = logEvent.Str("error", payload.Error)
			}
		case *models.SyncEvent:
			logEvent = logEvent.Str("connection_id", payload.ConnectionID).Str("sync_type", payload.Type)
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := interfaces.AllEventTypes()
	for _, eventType := range eventTypes {
		if _, err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Info().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
