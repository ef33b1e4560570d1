// -----------------------------------------------------------------------
// Workers - queue processors standing in for the collaborator side
// -----------------------------------------------------------------------

package workers

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/httpclient"
	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// Dependencies are the services the queue processors call into
type Dependencies struct {
	Queues          interfaces.QueueManager
	Orchestrator    interfaces.PipelineOrchestrator
	Events          interfaces.EventService
	Executor        interfaces.StageExecutor
	Client          *httpclient.JSONClient
	NotificationURL string
}

// NewExecutor builds the collaborator executor selected by config
func NewExecutor(config common.CollaboratorsConfig, client *httpclient.JSONClient, logger arbor.ILogger) (interfaces.StageExecutor, error) {
	switch config.Mode {
	case "", "loopback":
		logger.Info().Msg("Collaborators in loopback mode, stage jobs complete immediately")
		return NewLoopbackExecutor(logger), nil
	case "http":
		if len(config.Endpoints) == 0 {
			return nil, fmt.Errorf("collaborators.mode is http but no endpoints are configured")
		}
		logger.Info().Int("endpoints", len(config.Endpoints)).Msg("Collaborators reached over HTTP")
		return NewHTTPExecutor(client, config.Endpoints, logger), nil
	default:
		return nil, fmt.Errorf("unknown collaborators mode %q", config.Mode)
	}
}

// NewClient builds the shared JSON client for collaborator and notification calls
func NewClient(config common.CollaboratorsConfig) *httpclient.JSONClient {
	return httpclient.NewJSONClient(
		httpclient.WithHTTPClient(httpclient.NewTokenHTTPClient(common.ParseDurationOr(config.Timeout, 30*time.Second), config.Token)),
		httpclient.WithMinInterval(common.ParseDurationOr(config.RateLimit, 0)),
	)
}

// Start attaches a processor to every queue
func Start(deps Dependencies, logger arbor.ILogger) error {
	stages := NewStageWorker(deps.Executor, deps.Events, logger)

	handlers := map[string]interfaces.JobHandler{
		models.QueuePipeline:      NewPipelineWorker(deps.Orchestrator, stages, logger).Handle,
		models.QueueRender:        stages.Handle,
		models.QueueProduction:    stages.Handle,
		models.QueueFulfillment:   stages.Handle,
		models.QueueSync:          NewSyncWorker(deps.Executor, deps.Events, logger).Handle,
		models.QueueWebhooks:      NewWebhookWorker(deps.Events, logger).Handle,
		models.QueueNotifications: NewNotificationWorker(deps.Client, deps.NotificationURL, logger).Handle,
	}

	for _, name := range models.AllQueueNames() {
		if err := deps.Queues.Process(name, handlers[name]); err != nil {
			return fmt.Errorf("failed to start processor for queue %s: %w", name, err)
		}
	}

	logger.Info().Int("queues", len(handlers)).Msg("Queue processors started")
	return nil
}
