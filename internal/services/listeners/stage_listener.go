package listeners

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/services/pipeline"
)

// outcome describes what a collaborator event means for the stage it reports on.
// An empty stage is taken from the payload.
type outcome struct {
	stage   models.Stage
	success bool
}

var orderOutcomes = map[interfaces.EventType]outcome{
	interfaces.EventOrderValidated: {stage: models.StageOrderReceived, success: true},
	interfaces.EventOrderRejected:  {stage: models.StageOrderReceived},
}

var renderOutcomes = map[interfaces.EventType]outcome{
	interfaces.EventRenderCompleted: {stage: models.StageRender, success: true},
	interfaces.EventRenderFailed:    {stage: models.StageRender},
}

var productionOutcomes = map[interfaces.EventType]outcome{
	interfaces.EventProductionSubmitted: {stage: models.StageProduction, success: true},
	interfaces.EventProductionFailed:    {stage: models.StageProduction},
	interfaces.EventQualityApproved:     {stage: models.StageQualityCheck, success: true},
	interfaces.EventQualityRejected:     {stage: models.StageQualityCheck},
}

var fulfillmentOutcomes = map[interfaces.EventType]outcome{
	interfaces.EventFulfillmentReady:   {stage: models.StageReadyToShip, success: true},
	interfaces.EventFulfillmentShipped: {stage: models.StageFulfillment, success: true},
	interfaces.EventFulfillmentFailed:  {},
}

// StageListener turns collaborator events into exactly one orchestrator call:
// AdvanceStage on success, HandleStageFailed on failure. Events for pipelines
// that are gone, terminal, or already past the reported stage are dropped.
type StageListener struct {
	name         string
	outcomes     map[interfaces.EventType]outcome
	orchestrator interfaces.PipelineOrchestrator
	logger       arbor.ILogger
}

func newStageListener(name string, outcomes map[interfaces.EventType]outcome, orchestrator interfaces.PipelineOrchestrator, logger arbor.ILogger) *StageListener {
	return &StageListener{
		name:         name,
		outcomes:     outcomes,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// EventTypes returns the events this listener subscribes to
func (l *StageListener) EventTypes() []interfaces.EventType {
	types := make([]interfaces.EventType, 0, len(l.outcomes))
	for _, eventType := range interfaces.AllEventTypes() {
		if _, ok := l.outcomes[eventType]; ok {
			types = append(types, eventType)
		}
	}
	return types
}

func (l *StageListener) Handle(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(*models.StageEvent)
	if !ok {
		return fmt.Errorf("%s listener: unexpected payload %T for %s", l.name, event.Payload, event.Type)
	}
	result, ok := l.outcomes[event.Type]
	if !ok {
		return nil
	}

	stage := result.stage
	if stage == "" {
		stage = payload.Stage
		if stage == "" {
			stage = models.StageFulfillment
		}
	}

	p, err := resolvePipeline(ctx, l.orchestrator, payload)
	if err != nil {
		if errors.Is(err, models.ErrPipelineNotFound) {
			l.logger.Debug().Str("event", string(event.Type)).Str("order_id", payload.OrderID).Msg("Event for unknown pipeline ignored")
			return nil
		}
		return err
	}

	logger := l.logger.WithCorrelationId(p.ID)
	if reason := staleReason(p, payload, stage); reason != "" {
		logger.Debug().
			Str("event", string(event.Type)).
			Str("stage", string(stage)).
			Str("status", string(p.Status)).
			Str("reason", reason).
			Msg("Stale event ignored")
		return nil
	}

	if result.success {
		next, ok := pipeline.NextStage(stage)
		if !ok {
			return nil
		}
		_, err = l.orchestrator.AdvanceStage(ctx, p.ID, &next, models.TriggerAutomatic)
	} else {
		message := payload.Error
		if message == "" {
			message = string(event.Type)
		}
		_, err = l.orchestrator.HandleStageFailed(ctx, p.ID, stage, message, payload.Retryable)
	}

	if isRaceLoss(err) {
		logger.Debug().Err(err).Str("event", string(event.Type)).Msg("Event lost a race with another transition")
		return nil
	}
	return err
}

func staleReason(p *models.Pipeline, payload *models.StageEvent, stage models.Stage) string {
	switch {
	case payload.BrandID != "" && payload.BrandID != p.BrandID:
		return "brand mismatch"
	case !p.IsActive():
		return "pipeline is " + string(p.Status)
	case p.CurrentStage != stage:
		return "pipeline is at " + string(p.CurrentStage)
	}
	return ""
}

// isRaceLoss reports errors caused by another caller transitioning the
// pipeline between our read and our write
func isRaceLoss(err error) bool {
	return errors.Is(err, models.ErrIllegalTransition) ||
		errors.Is(err, models.ErrPipelineNotFound) ||
		errors.Is(err, models.ErrAlreadyCompleted)
}

func resolvePipeline(ctx context.Context, orchestrator interfaces.PipelineOrchestrator, payload *models.StageEvent) (*models.Pipeline, error) {
	if payload.PipelineID != "" {
		return orchestrator.GetPipeline(ctx, payload.PipelineID)
	}
	if payload.OrderID != "" {
		return orchestrator.GetPipelineByOrder(ctx, payload.OrderID)
	}
	return nil, fmt.Errorf("%w: event carries neither pipeline nor order id", models.ErrPipelineNotFound)
}
