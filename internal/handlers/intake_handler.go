package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/services/listeners"
)

// IntakeHandler accepts collaborator webhooks and sync requests and queues them
type IntakeHandler struct {
	queues   interfaces.QueueManager
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewIntakeHandler(queues interfaces.QueueManager, logger arbor.ILogger) *IntakeHandler {
	return &IntakeHandler{
		queues:   queues,
		validate: validator.New(),
		logger:   logger,
	}
}

// WebhookEventHandler - POST /api/webhooks/events
func (h *IntakeHandler) WebhookEventHandler(w http.ResponseWriter, r *http.Request) {
	var event models.WebhookEvent
	if err := DecodeJSON(r, &event); err != nil {
		WriteServiceError(w, err)
		return
	}
	if err := h.validate.Struct(event); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !listeners.IsCollaboratorEvent(interfaces.EventType(event.Type)) {
		WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("event type %q is not accepted from collaborators", event.Type))
		return
	}
	if event.Payload.OccurredAt.IsZero() {
		event.Payload.OccurredAt = time.Now().UTC()
	}

	jobID, err := h.queues.Enqueue(r.Context(), models.QueueWebhooks, models.JobTypeDeliverEvent, event, models.JobOptions{})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Debug().
		Str("event_type", event.Type).
		Str("pipeline_id", event.Payload.PipelineID).
		Str("order_id", event.Payload.OrderID).
		Str("job_id", jobID).
		Msg("Collaborator event queued")
	WriteAccepted(w, jobID)
}

// SyncHandler - POST /api/sync
func (h *IntakeHandler) SyncHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SyncJobPayload
	if err := DecodeJSON(r, &req); err != nil {
		WriteServiceError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	jobID, err := h.queues.Enqueue(r.Context(), models.QueueSync, req.Type, req, models.JobOptions{})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().
		Str("connection_id", req.ConnectionID).
		Str("brand_id", req.BrandID).
		Str("type", req.Type).
		Str("job_id", jobID).
		Msg("Sync queued")
	WriteAccepted(w, jobID)
}
