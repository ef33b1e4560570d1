package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/handlers"
	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/queue"
	"github.com/ternarybob/pce/internal/services/events"
	"github.com/ternarybob/pce/internal/services/listeners"
	"github.com/ternarybob/pce/internal/services/pce"
	"github.com/ternarybob/pce/internal/services/pipeline"
	"github.com/ternarybob/pce/internal/services/quota"
	"github.com/ternarybob/pce/internal/services/report"
	"github.com/ternarybob/pce/internal/services/scheduler"
	"github.com/ternarybob/pce/internal/storage"
	"github.com/ternarybob/pce/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Engine
	QueueManager     *queue.Manager
	QueueMonitor     *queue.Monitor
	EventService     interfaces.EventService
	Orchestrator     *pipeline.Orchestrator
	QuotaGuard       *quota.Guard
	PCEService       *pce.Service
	SchedulerService *scheduler.Service
	ReportService    *report.Service

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	PipelineHandler  *handlers.PipelineHandler
	QueueHandler     *handlers.QueueHandler
	IntakeHandler    *handlers.IntakeHandler
	SchedulerHandler *handlers.SchedulerHandler
	ReportHandler    *handlers.ReportHandler
	WSHandler        *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: config,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.startProcessing(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start processing: %w", err)
	}

	logger.Info().
		Str("storage_path", config.Storage.Badger.Path).
		Int("queues", len(app.QueueManager.QueueNames())).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager
	return nil
}

// initServices builds the engine bottom-up: queues, bus, orchestrator, quota, order service
func (a *App) initServices() error {
	a.QueueManager = queue.NewManager(a.Logger, queue.Config{
		Concurrency:      a.Config.Queue.Concurrency,
		QueueConcurrency: a.Config.Queue.QueueConcurrency,
		MaxAttempts:      a.Config.Queue.MaxAttempts,
		Backoff: queue.Exponential{
			Initial: common.ParseDurationOr(a.Config.Queue.BackoffBase, time.Second),
			Max:     common.ParseDurationOr(a.Config.Queue.BackoffMax, time.Minute),
		},
	}, models.AllQueueNames()...)

	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return err
	}

	a.Orchestrator = pipeline.NewOrchestrator(
		a.StorageManager.PipelineStorage(),
		a.QueueManager,
		a.EventService,
		pipeline.Config{
			StageMaxRetries: a.Config.Pipeline.StageMaxRetries,
			RetryBackoff: queue.Exponential{
				Initial: common.ParseDurationOr(a.Config.Pipeline.RetryBackoffBase, time.Second),
				Max:     common.ParseDurationOr(a.Config.Pipeline.RetryBackoffMax, time.Minute),
			},
			JobMaxAttempts: a.Config.Queue.MaxAttempts,
		},
		a.Logger,
	)

	resolver, err := quota.NewConfigResolver(&a.Config.Quota, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load quota plans: %w", err)
	}
	a.QuotaGuard = quota.NewGuard(resolver, a.StorageManager.PipelineStorage(), a.StorageManager.UsageStorage(), a.Logger)

	a.PCEService = pce.NewService(
		a.Orchestrator,
		a.StorageManager.PipelineStorage(),
		a.StorageManager.UsageStorage(),
		a.QuotaGuard,
		a.Logger,
	)

	if err := listeners.Register(a.EventService, listeners.Dependencies{
		Orchestrator: a.Orchestrator,
		Orders:       a.PCEService,
		Usage:        a.StorageManager.UsageStorage(),
		Queues:       a.QueueManager,
	}, a.Logger); err != nil {
		return err
	}

	a.QueueMonitor = queue.NewMonitor(a.QueueManager, queue.Thresholds{
		DegradedFailed:   a.Config.Monitor.DegradedFailed,
		DegradedWaiting:  a.Config.Monitor.DegradedWaiting,
		UnhealthyFailed:  a.Config.Monitor.UnhealthyFailed,
		UnhealthyWaiting: a.Config.Monitor.UnhealthyWaiting,
	}, a.Logger)

	a.ReportService = report.NewService(a.Orchestrator, a.Logger)

	a.SchedulerService = scheduler.NewService(a.Logger)
	if err := scheduler.RegisterDefaultJobs(a.SchedulerService, a.QueueManager, a.Orchestrator, a.Config, a.Logger); err != nil {
		return fmt.Errorf("failed to register scheduled jobs: %w", err)
	}

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.PipelineHandler = handlers.NewPipelineHandler(a.PCEService, a.Orchestrator, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.QueueManager, a.QueueMonitor, a.Logger)
	a.IntakeHandler = handlers.NewIntakeHandler(a.QueueManager, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
	a.ReportHandler = handlers.NewReportHandler(a.ReportService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)
}

// startProcessing attaches the queue processors, starts the scheduler and
// recovers pipelines left mid-stage by a previous run
func (a *App) startProcessing() error {
	if a.Config.WebSocket.Enabled {
		if err := a.WSHandler.SubscribeToEvents(); err != nil {
			return fmt.Errorf("failed to subscribe websocket handler: %w", err)
		}
	}

	client := workers.NewClient(a.Config.Collaborators)
	executor, err := workers.NewExecutor(a.Config.Collaborators, client, a.Logger)
	if err != nil {
		return err
	}

	if err := workers.Start(workers.Dependencies{
		Queues:          a.QueueManager,
		Orchestrator:    a.Orchestrator,
		Events:          a.EventService,
		Executor:        executor,
		Client:          client,
		NotificationURL: a.Config.Collaborators.NotificationURL,
	}, a.Logger); err != nil {
		return err
	}

	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if a.Config.Pipeline.ReconcileOnStartup {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		requeued, err := a.Orchestrator.Reconcile(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Startup reconciliation incomplete")
		} else {
			a.Logger.Info().Int("requeued", requeued).Msg("Startup reconciliation complete")
		}
	}

	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	if a.SchedulerService != nil && a.SchedulerService.IsRunning() {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		} else {
			a.Logger.Info().Msg("Scheduler service stopped")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queues")
		} else {
			a.Logger.Info().Msg("Queue processors stopped")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
