package server

import (
	"net/http"
)

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Orders and tenant views
	mux.HandleFunc("POST /api/orders", s.app.PipelineHandler.ProcessOrderHandler)
	mux.HandleFunc("GET /api/orders/{orderID}", s.app.PipelineHandler.OrderStatusHandler)
	mux.HandleFunc("GET /api/dashboard", s.app.PipelineHandler.DashboardHandler)
	mux.HandleFunc("GET /api/alerts", s.app.PipelineHandler.ListAlertsHandler)
	mux.HandleFunc("POST /api/alerts/{errorID}/resolve", s.app.PipelineHandler.ResolveAlertHandler)

	// Operator pipeline controls
	mux.HandleFunc("GET /api/pipelines/{id}", s.app.PipelineHandler.GetPipelineHandler)
	mux.HandleFunc("POST /api/pipelines/{id}/advance", s.app.PipelineHandler.AdvanceHandler)
	mux.HandleFunc("POST /api/pipelines/{id}/retry", s.app.PipelineHandler.RetryHandler)
	mux.HandleFunc("POST /api/pipelines/{id}/cancel", s.app.PipelineHandler.CancelHandler)
	mux.HandleFunc("GET /api/pipelines/{id}/report", s.app.ReportHandler.PipelineReportHandler)

	// Queues
	mux.HandleFunc("GET /api/queues", s.app.QueueHandler.ListQueuesHandler)
	mux.HandleFunc("GET /api/queues/{name}", s.app.QueueHandler.QueueStatusHandler)
	mux.HandleFunc("POST /api/queues/{name}/pause", s.app.QueueHandler.PauseHandler)
	mux.HandleFunc("POST /api/queues/{name}/resume", s.app.QueueHandler.ResumeHandler)
	mux.HandleFunc("GET /api/queues/{name}/failed", s.app.QueueHandler.FailedJobsHandler)
	mux.HandleFunc("POST /api/queues/{name}/retry-failed", s.app.QueueHandler.RetryFailedHandler)
	mux.HandleFunc("GET /api/health", s.app.QueueHandler.HealthHandler)
	mux.HandleFunc("GET /api/metrics", s.app.QueueHandler.MetricsHandler)

	// Collaborator intake
	mux.HandleFunc("POST /api/webhooks/events", s.app.IntakeHandler.WebhookEventHandler)
	mux.HandleFunc("POST /api/sync", s.app.IntakeHandler.SyncHandler)

	// Scheduler
	mux.HandleFunc("GET /api/scheduler/jobs", s.app.SchedulerHandler.ListJobsHandler)
	mux.HandleFunc("POST /api/scheduler/jobs/{name}/trigger", s.app.SchedulerHandler.TriggerJobHandler)
	mux.HandleFunc("POST /api/scheduler/jobs/{name}/enable", s.app.SchedulerHandler.EnableJobHandler)
	mux.HandleFunc("POST /api/scheduler/jobs/{name}/disable", s.app.SchedulerHandler.DisableJobHandler)

	// WebSocket
	if s.app.Config.WebSocket.Enabled {
		mux.HandleFunc("GET "+wsPath, s.app.WSHandler.HandleWebSocket)
	}

	mux.HandleFunc("GET /api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("GET /api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
