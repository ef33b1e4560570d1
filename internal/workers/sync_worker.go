package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// SyncWorker runs e-commerce sync jobs through the sync collaborator and
// reports the run on the bus. Retryable failures go back to the queue until
// the job's attempts are spent; sync.failed is only published for the last one.
type SyncWorker struct {
	executor interfaces.StageExecutor
	events   interfaces.EventService
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewSyncWorker(executor interfaces.StageExecutor, events interfaces.EventService, logger arbor.ILogger) *SyncWorker {
	return &SyncWorker{
		executor: executor,
		events:   events,
		validate: validator.New(),
		logger:   logger,
	}
}

func (w *SyncWorker) Handle(ctx context.Context, job *models.Job) error {
	var payload models.SyncJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode sync payload of job %s: %w", job.ID, err)
	}
	if err := w.validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid sync payload of job %s: %w", job.ID, err)
	}

	event := func(orderIDs []string, message string) *models.SyncEvent {
		return &models.SyncEvent{
			SyncJobID:    job.ID,
			ConnectionID: payload.ConnectionID,
			BrandID:      payload.BrandID,
			Type:         payload.Type,
			OrderIDs:     orderIDs,
			Error:        message,
			OccurredAt:   time.Now().UTC(),
		}
	}

	if job.Attempts <= 1 {
		w.publish(ctx, interfaces.EventSyncStarted, event(nil, ""))
	}

	result, err := w.executor.Execute(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if models.IsRetryable(err) && job.Attempts < job.MaxAttempts {
			return err
		}
		w.logger.Warn().
			Err(err).
			Str("connection_id", payload.ConnectionID).
			Str("brand_id", payload.BrandID).
			Str("type", payload.Type).
			Msg("Sync run failed")
		w.publish(ctx, interfaces.EventSyncFailed, event(nil, err.Error()))
		return nil
	}

	var orderIDs []string
	if result != nil {
		orderIDs = result.OrderIDs
	}
	w.logger.Info().
		Str("connection_id", payload.ConnectionID).
		Str("brand_id", payload.BrandID).
		Str("type", payload.Type).
		Int("orders", len(orderIDs)).
		Msg("Sync run completed")
	w.publish(ctx, interfaces.EventSyncCompleted, event(orderIDs, ""))
	return nil
}

func (w *SyncWorker) publish(ctx context.Context, eventType interfaces.EventType, payload *models.SyncEvent) {
	if err := w.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		w.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish sync event")
	}
}
