package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/queue"
)

// QueueHandler exposes queue administration and health
type QueueHandler struct {
	queues  interfaces.QueueManager
	monitor *queue.Monitor
	logger  arbor.ILogger
}

func NewQueueHandler(queues interfaces.QueueManager, monitor *queue.Monitor, logger arbor.ILogger) *QueueHandler {
	return &QueueHandler{
		queues:  queues,
		monitor: monitor,
		logger:  logger,
	}
}

// ListQueuesHandler - GET /api/queues
func (h *QueueHandler) ListQueuesHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.queues.GetAllQueueStatuses())
}

// QueueStatusHandler - GET /api/queues/{name}
func (h *QueueHandler) QueueStatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.queues.GetQueueStatus(r.PathValue("name"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// PauseHandler - POST /api/queues/{name}/pause
func (h *QueueHandler) PauseHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.queues.PauseQueue(name); err != nil {
		WriteServiceError(w, err)
		return
	}
	h.logger.Info().Str("queue", name).Msg("Queue paused by operator")
	WriteSuccess(w, "queue "+name+" paused")
}

// ResumeHandler - POST /api/queues/{name}/resume
func (h *QueueHandler) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.queues.ResumeQueue(name); err != nil {
		WriteServiceError(w, err)
		return
	}
	h.logger.Info().Str("queue", name).Msg("Queue resumed by operator")
	WriteSuccess(w, "queue "+name+" resumed")
}

// FailedJobsHandler - GET /api/queues/{name}/failed?offset=&limit=
func (h *QueueHandler) FailedJobsHandler(w http.ResponseWriter, r *http.Request) {
	failed, err := h.queues.GetFailedJobs(r.PathValue("name"), QueryInt(r, "offset", 0), QueryInt(r, "limit", 50))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	jobs := make([]*models.Job, 0, len(failed))
	for _, f := range failed {
		jobs = append(jobs, f.Job())
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// RetryFailedHandler - POST /api/queues/{name}/retry-failed?limit=
func (h *QueueHandler) RetryFailedHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	retried, err := h.queues.RetryFailed(r.Context(), name, QueryInt(r, "limit", 100))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	h.logger.Info().Str("queue", name).Int("retried", retried).Msg("Failed jobs re-enqueued by operator")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"queue":   name,
		"retried": retried,
	})
}

// HealthHandler - GET /api/health. Unhealthy answers 503 so load balancers
// can act on it.
func (h *QueueHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.Health(r.Context())
	status := http.StatusOK
	if report.Status == models.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, report)
}

// MetricsHandler - GET /api/metrics
func (h *QueueHandler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.monitor.Metrics(r.Context()))
}
