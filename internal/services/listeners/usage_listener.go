package listeners

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

var meteredEvents = map[interfaces.EventType]models.UsageMetric{
	interfaces.EventRenderCompleted:     models.UsageRenders,
	interfaces.EventProductionSubmitted: models.UsageProductions,
	interfaces.EventFulfillmentShipped:  models.UsageShipments,
	interfaces.EventPipelineCompleted:   models.UsageCompletedOrders,
}

// UsageListener meters billable work. Work that finished after a cancellation
// still happened, so pipeline status is not checked. Each pipeline is metered
// once per metric however often an event is delivered, and storage failures
// are logged without failing the dispatch.
type UsageListener struct {
	orchestrator interfaces.PipelineOrchestrator
	usage        interfaces.UsageStorage
	logger       arbor.ILogger
}

func NewUsageListener(orchestrator interfaces.PipelineOrchestrator, usage interfaces.UsageStorage, logger arbor.ILogger) *UsageListener {
	return &UsageListener{
		orchestrator: orchestrator,
		usage:        usage,
		logger:       logger,
	}
}

func (l *UsageListener) EventTypes() []interfaces.EventType {
	return []interfaces.EventType{
		interfaces.EventRenderCompleted,
		interfaces.EventProductionSubmitted,
		interfaces.EventFulfillmentShipped,
		interfaces.EventPipelineCompleted,
	}
}

func (l *UsageListener) Handle(ctx context.Context, event interfaces.Event) error {
	metric, ok := meteredEvents[event.Type]
	if !ok {
		return nil
	}
	payload, ok := event.Payload.(*models.StageEvent)
	if !ok {
		return fmt.Errorf("usage listener: unexpected payload %T for %s", event.Payload, event.Type)
	}

	p, err := resolvePipeline(ctx, l.orchestrator, payload)
	if errors.Is(err, models.ErrPipelineNotFound) {
		return nil
	}
	if err != nil {
		l.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Usage not recorded, pipeline lookup failed")
		return nil
	}

	record := models.NewUsageRecord(p.BrandID, metric, 1, p.ID, p.OrderID)
	if err := l.usage.RecordUsage(ctx, record); err != nil {
		l.logger.Warn().
			Err(err).
			Str("brand_id", p.BrandID).
			Str("metric", string(metric)).
			Str("pipeline_id", p.ID).
			Msg("Failed to record usage")
		return nil
	}

	l.logger.Debug().
		Str("brand_id", p.BrandID).
		Str("metric", string(metric)).
		Str("pipeline_id", p.ID).
		Msg("Usage recorded")
	return nil
}
