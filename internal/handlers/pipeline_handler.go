package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// PipelineHandler serves order intake, tenant views and operator controls
type PipelineHandler struct {
	orders       interfaces.PCEService
	orchestrator interfaces.PipelineOrchestrator
	logger       arbor.ILogger
}

func NewPipelineHandler(orders interfaces.PCEService, orchestrator interfaces.PipelineOrchestrator, logger arbor.ILogger) *PipelineHandler {
	return &PipelineHandler{
		orders:       orders,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// ProcessOrderHandler - POST /api/orders
func (h *PipelineHandler) ProcessOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req interfaces.ProcessOrderRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteServiceError(w, err)
		return
	}

	p, err := h.orders.ProcessOrder(r.Context(), req)
	if err != nil {
		h.logger.Debug().Err(err).Str("order_id", req.OrderID).Str("brand_id", req.BrandID).Msg("Order rejected")
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, p)
}

// OrderStatusHandler - GET /api/orders/{orderID}?brand_id=
func (h *PipelineHandler) OrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.orders.GetOrderStatus(r.Context(), r.PathValue("orderID"), r.URL.Query().Get("brand_id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// DashboardHandler - GET /api/dashboard?brand_id=
func (h *PipelineHandler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	brandID := r.URL.Query().Get("brand_id")
	if brandID == "" {
		WriteError(w, http.StatusUnprocessableEntity, "brand_id is required")
		return
	}
	stats, err := h.orders.GetDashboardStats(r.Context(), brandID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// ListAlertsHandler - GET /api/alerts?brand_id=. Without brand_id every tenant's
// alerts are listed.
func (h *PipelineHandler) ListAlertsHandler(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.orders.ListAlerts(r.Context(), r.URL.Query().Get("brand_id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// ResolveAlertHandler - POST /api/alerts/{errorID}/resolve?brand_id=
func (h *PipelineHandler) ResolveAlertHandler(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.orders.ResolveAlert(r.Context(), r.URL.Query().Get("brand_id"), r.PathValue("errorID"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resolved)
}

// pipelineDetail is a pipeline with its history
type pipelineDetail struct {
	*models.Pipeline
	Transitions []*models.PipelineTransition `json:"transitions"`
	Errors      []*models.PipelineError      `json:"errors"`
}

// GetPipelineHandler - GET /api/pipelines/{id}
func (h *PipelineHandler) GetPipelineHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	p, err := h.orchestrator.GetPipeline(ctx, id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	transitions, err := h.orchestrator.ListTransitions(ctx, id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	errs, err := h.orchestrator.ListErrors(ctx, id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pipelineDetail{Pipeline: p, Transitions: transitions, Errors: errs})
}

type advanceRequest struct {
	Stage   string `json:"stage,omitempty"`
	Trigger string `json:"trigger,omitempty"`
}

// AdvanceHandler - POST /api/pipelines/{id}/advance. Operators move manually
// unless the body asks for an automatic step.
func (h *PipelineHandler) AdvanceHandler(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteServiceError(w, err)
		return
	}

	var target *models.Stage
	if req.Stage != "" {
		stage, ok := models.ParseStage(req.Stage)
		if !ok {
			WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown stage %q", req.Stage))
			return
		}
		target = &stage
	}

	trigger := models.TriggerManual
	switch models.TriggeredBy(req.Trigger) {
	case "", models.TriggerManual:
	case models.TriggerAutomatic:
		trigger = models.TriggerAutomatic
	default:
		WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("trigger must be manual or automatic, got %q", req.Trigger))
		return
	}

	p, err := h.orchestrator.AdvanceStage(r.Context(), r.PathValue("id"), target, trigger)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// RetryHandler - POST /api/pipelines/{id}/retry
func (h *PipelineHandler) RetryHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.orchestrator.RetryStage(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelHandler - POST /api/pipelines/{id}/cancel
func (h *PipelineHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteServiceError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	p, err := h.orchestrator.CancelPipeline(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}
