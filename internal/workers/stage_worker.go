// -----------------------------------------------------------------------
// StageWorker - hands stage jobs to collaborators and reports the outcome
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

type stageOutcome struct {
	success interfaces.EventType
	failure interfaces.EventType
}

var stageOutcomes = map[models.Stage]stageOutcome{
	models.StageOrderReceived: {interfaces.EventOrderValidated, interfaces.EventOrderRejected},
	models.StageRender:        {interfaces.EventRenderCompleted, interfaces.EventRenderFailed},
	models.StageProduction:    {interfaces.EventProductionSubmitted, interfaces.EventProductionFailed},
	models.StageQualityCheck:  {interfaces.EventQualityApproved, interfaces.EventQualityRejected},
	models.StageReadyToShip:   {interfaces.EventFulfillmentReady, interfaces.EventFulfillmentFailed},
	models.StageFulfillment:   {interfaces.EventFulfillmentShipped, interfaces.EventFulfillmentFailed},
}

// StageWorker processes the stage jobs enqueued by the pipeline orchestrator.
// Collaborator failures become failure events so the orchestrator owns the
// retry decision; only jobs that cannot be handled at all are failed back to
// the queue.
type StageWorker struct {
	executor interfaces.StageExecutor
	events   interfaces.EventService
	logger   arbor.ILogger
}

func NewStageWorker(executor interfaces.StageExecutor, events interfaces.EventService, logger arbor.ILogger) *StageWorker {
	return &StageWorker{
		executor: executor,
		events:   events,
		logger:   logger,
	}
}

// Handle is an interfaces.JobHandler
func (w *StageWorker) Handle(ctx context.Context, job *models.Job) error {
	var payload models.StageJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode stage payload of job %s: %w", job.ID, err)
	}
	outcome, ok := stageOutcomes[payload.Stage]
	if !ok {
		return fmt.Errorf("job %s carries non-working stage %q", job.ID, payload.Stage)
	}

	logger := w.logger.WithCorrelationId(payload.PipelineID)
	started := time.Now()

	result, err := w.executor.Execute(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; the queue keeps the attempt
			return ctx.Err()
		}
		retryable := models.IsRetryable(err)
		logger.Warn().
			Err(err).
			Str("job_type", job.JobType).
			Str("stage", string(payload.Stage)).
			Bool("retryable", retryable).
			Msg("Collaborator reported stage failure")

		w.publish(ctx, outcome.failure, &models.StageEvent{
			PipelineID: payload.PipelineID,
			OrderID:    payload.OrderID,
			BrandID:    payload.BrandID,
			Stage:      payload.Stage,
			Error:      err.Error(),
			Retryable:  retryable,
			Retry:      payload.Retry,
			OccurredAt: time.Now().UTC(),
		})
		return nil
	}

	if result == nil || !result.Completed {
		logger.Debug().
			Str("job_type", job.JobType).
			Str("stage", string(payload.Stage)).
			Msg("Collaborator accepted stage, awaiting webhook")
		return nil
	}

	logger.Debug().
		Str("job_type", job.JobType).
		Str("stage", string(payload.Stage)).
		Str("reference_id", result.ReferenceID).
		Dur("duration", time.Since(started)).
		Msg("Stage work completed")

	w.publish(ctx, outcome.success, &models.StageEvent{
		PipelineID:  payload.PipelineID,
		OrderID:     payload.OrderID,
		BrandID:     payload.BrandID,
		Stage:       payload.Stage,
		ReferenceID: result.ReferenceID,
		Retry:       payload.Retry,
		OccurredAt:  time.Now().UTC(),
	})
	return nil
}

func (w *StageWorker) publish(ctx context.Context, eventType interfaces.EventType, payload *models.StageEvent) {
	if err := w.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		w.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish stage event")
	}
}
