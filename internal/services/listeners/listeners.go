// -----------------------------------------------------------------------
// Listeners - event bus subscribers that feed outcomes back into the engine
// -----------------------------------------------------------------------

package listeners

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
)

// Listener is a bus subscriber that knows its own event types
type Listener interface {
	EventTypes() []interfaces.EventType
	Handle(ctx context.Context, event interfaces.Event) error
}

// Dependencies are the services listeners call into
type Dependencies struct {
	Orchestrator interfaces.PipelineOrchestrator
	Orders       interfaces.PCEService
	Usage        interfaces.UsageStorage
	Queues       interfaces.QueueManager
}

// Build returns every listener in subscription order. Stage listeners come
// before usage so a render is metered after the pipeline moved on.
func Build(deps Dependencies, logger arbor.ILogger) []Listener {
	return []Listener{
		newStageListener("order", orderOutcomes, deps.Orchestrator, logger),
		newStageListener("render", renderOutcomes, deps.Orchestrator, logger),
		newStageListener("production", productionOutcomes, deps.Orchestrator, logger),
		newStageListener("fulfillment", fulfillmentOutcomes, deps.Orchestrator, logger),
		NewUsageListener(deps.Orchestrator, deps.Usage, logger),
		NewSyncListener(deps.Orders, logger),
		NewNotificationListener(deps.Queues, logger),
	}
}

// Register subscribes every listener to the bus
func Register(bus interfaces.EventService, deps Dependencies, logger arbor.ILogger) error {
	subscriptions := 0
	for _, listener := range Build(deps, logger) {
		for _, eventType := range listener.EventTypes() {
			if _, err := bus.Subscribe(eventType, listener.Handle); err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
			}
			subscriptions++
		}
	}

	logger.Info().Int("subscriptions", subscriptions).Msg("Event listeners registered")
	return nil
}

// IsCollaboratorEvent reports whether external collaborators may report the
// event through the webhook intake
func IsCollaboratorEvent(eventType interfaces.EventType) bool {
	for _, outcomes := range []map[interfaces.EventType]outcome{orderOutcomes, renderOutcomes, productionOutcomes, fulfillmentOutcomes} {
		if _, ok := outcomes[eventType]; ok {
			return true
		}
	}
	return false
}
