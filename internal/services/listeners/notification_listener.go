package listeners

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// NotificationListener queues operator notifications for alerts and stalls
type NotificationListener struct {
	queues interfaces.QueueManager
	logger arbor.ILogger
}

func NewNotificationListener(queues interfaces.QueueManager, logger arbor.ILogger) *NotificationListener {
	return &NotificationListener{
		queues: queues,
		logger: logger,
	}
}

func (l *NotificationListener) EventTypes() []interfaces.EventType {
	return []interfaces.EventType{
		interfaces.EventPipelineAlert,
		interfaces.EventPipelineStalled,
	}
}

func (l *NotificationListener) Handle(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(*models.StageEvent)
	if !ok {
		return fmt.Errorf("notification listener: unexpected payload %T for %s", event.Payload, event.Type)
	}

	message := payload.Error
	if message == "" {
		message = fmt.Sprintf("pipeline %s has not left %s within its SLA", payload.PipelineID, payload.Stage)
	}

	notification := models.OperatorNotification{
		Kind:       string(event.Type),
		PipelineID: payload.PipelineID,
		OrderID:    payload.OrderID,
		BrandID:    payload.BrandID,
		Stage:      payload.Stage,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := l.queues.Enqueue(ctx, models.QueueNotifications, models.JobTypeNotifyOperator, notification, models.JobOptions{})
	return err
}
