package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/httpclient"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/services/report"
)

// notificationDelivery is the body POSTed to the operator webhook
type notificationDelivery struct {
	*models.OperatorNotification
	Markdown string `json:"markdown"`
	HTML     string `json:"html,omitempty"`
}

// NotificationWorker delivers operator notifications. Every notification is
// logged; when a URL is configured it is also POSTed there and delivery
// failures are retried by the queue.
type NotificationWorker struct {
	client *httpclient.JSONClient
	url    string
	logger arbor.ILogger
}

func NewNotificationWorker(client *httpclient.JSONClient, url string, logger arbor.ILogger) *NotificationWorker {
	return &NotificationWorker{
		client: client,
		url:    url,
		logger: logger,
	}
}

func (w *NotificationWorker) Handle(ctx context.Context, job *models.Job) error {
	var notification models.OperatorNotification
	if err := json.Unmarshal(job.Payload, &notification); err != nil {
		return fmt.Errorf("failed to decode notification of job %s: %w", job.ID, err)
	}

	w.logger.WithCorrelationId(notification.PipelineID).Warn().
		Str("kind", notification.Kind).
		Str("order_id", notification.OrderID).
		Str("brand_id", notification.BrandID).
		Str("stage", string(notification.Stage)).
		Msg(notification.Message)

	if w.url == "" || w.client == nil {
		return nil
	}

	delivery := notificationDelivery{
		OperatorNotification: &notification,
		Markdown:             report.NotificationMarkdown(&notification),
	}
	if html, err := report.RenderHTML(delivery.Markdown); err == nil {
		delivery.HTML = html
	} else {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Notification sent without HTML body")
	}

	if err := w.client.PostJSON(ctx, w.url, delivery, nil); err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	return nil
}
