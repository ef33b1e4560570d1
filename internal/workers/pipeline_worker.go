package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// PipelineWorker consumes the pipeline queue: order validation goes to the
// stage worker, delayed retry-stage jobs go back to the orchestrator.
type PipelineWorker struct {
	orchestrator interfaces.PipelineOrchestrator
	stages       *StageWorker
	logger       arbor.ILogger
}

func NewPipelineWorker(orchestrator interfaces.PipelineOrchestrator, stages *StageWorker, logger arbor.ILogger) *PipelineWorker {
	return &PipelineWorker{
		orchestrator: orchestrator,
		stages:       stages,
		logger:       logger,
	}
}

func (w *PipelineWorker) Handle(ctx context.Context, job *models.Job) error {
	switch job.JobType {
	case models.JobTypeValidateOrder:
		return w.stages.Handle(ctx, job)
	case models.JobTypeRetryStage:
		return w.retry(ctx, job)
	default:
		return fmt.Errorf("pipeline queue cannot handle job type %s", job.JobType)
	}
}

func (w *PipelineWorker) retry(ctx context.Context, job *models.Job) error {
	var payload models.StageJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode retry payload of job %s: %w", job.ID, err)
	}

	_, err := w.orchestrator.RetryStageAt(ctx, payload.PipelineID, payload.Stage)
	if isStaleRetry(err) {
		w.logger.WithCorrelationId(payload.PipelineID).Debug().
			Err(err).
			Str("stage", string(payload.Stage)).
			Msg("Scheduled retry no longer applies")
		return nil
	}
	return err
}

// isStaleRetry reports errors meaning the pipeline moved on (manual retry,
// cancel, advance) before the delayed job fired
func isStaleRetry(err error) bool {
	return errors.Is(err, models.ErrIllegalTransition) ||
		errors.Is(err, models.ErrNotRetryable) ||
		errors.Is(err, models.ErrPipelineNotFound) ||
		errors.Is(err, models.ErrAlreadyCompleted)
}
