package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// WebhookWorker publishes collaborator events received through the intake.
// Each subscriber sees a delivery once: listener errors are logged by the bus
// and never fail the job, so a queue retry cannot replay the event.
type WebhookWorker struct {
	events interfaces.EventService
	logger arbor.ILogger
}

func NewWebhookWorker(events interfaces.EventService, logger arbor.ILogger) *WebhookWorker {
	return &WebhookWorker{
		events: events,
		logger: logger,
	}
}

func (w *WebhookWorker) Handle(ctx context.Context, job *models.Job) error {
	var delivery models.WebhookEvent
	if err := json.Unmarshal(job.Payload, &delivery); err != nil {
		return fmt.Errorf("failed to decode webhook event of job %s: %w", job.ID, err)
	}

	eventType := interfaces.EventType(delivery.Type)
	if !interfaces.IsKnownEventType(eventType) {
		return fmt.Errorf("webhook job %s carries unknown event type %q", job.ID, delivery.Type)
	}

	payload := delivery.Payload
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = job.CreatedAt
	}

	w.logger.Debug().
		Str("event_type", delivery.Type).
		Str("pipeline_id", payload.PipelineID).
		Str("order_id", payload.OrderID).
		Int("attempt", job.Attempts).
		Msg("Delivering collaborator event")

	return w.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: &payload})
}
