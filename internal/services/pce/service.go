package pce

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// Service is the tenant-facing entry point: admission, order status and
// dashboard reads. Every mutation is delegated to the pipeline orchestrator.
type Service struct {
	orchestrator interfaces.PipelineOrchestrator
	pipelines    interfaces.PipelineStorage
	usage        interfaces.UsageStorage
	quota        interfaces.QuotaChecker
	validate     *validator.Validate
	logger       arbor.ILogger
}

var _ interfaces.PCEService = (*Service)(nil)

// NewService creates a new PCE service
func NewService(
	orchestrator interfaces.PipelineOrchestrator,
	pipelines interfaces.PipelineStorage,
	usage interfaces.UsageStorage,
	quota interfaces.QuotaChecker,
	logger arbor.ILogger,
) *Service {
	return &Service{
		orchestrator: orchestrator,
		pipelines:    pipelines,
		usage:        usage,
		quota:        quota,
		validate:     validator.New(),
		logger:       logger,
	}
}

// ProcessOrder admits an order and starts its pipeline. Quota is checked
// before anything is written.
func (s *Service) ProcessOrder(ctx context.Context, req interfaces.ProcessOrderRequest) (*models.Pipeline, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	dimensions := []models.QuotaDimension{models.QuotaOrders, models.QuotaConcurrentPipelines}
	if req.Options.RequiresRender {
		dimensions = append(dimensions, models.QuotaRenders)
	}
	if err := s.quota.Check(ctx, req.BrandID, dimensions...); err != nil {
		return nil, err
	}

	p, err := s.orchestrator.StartPipeline(ctx, req.OrderID, req.BrandID, orderMetadata(req.Options))
	if err != nil {
		if errors.Is(err, models.ErrDuplicatePipeline) {
			s.logger.Debug().Str("order_id", req.OrderID).Msg("Order already has a pipeline")
		}
		return nil, err
	}

	record := models.NewUsageRecord(req.BrandID, models.UsageOrders, 1, p.ID, p.OrderID)
	if err := s.usage.RecordUsage(ctx, record); err != nil {
		s.logger.Warn().Err(err).Str("pipeline_id", p.ID).Msg("Failed to record order usage")
	}
	return p, nil
}

func orderMetadata(opts interfaces.ProcessOrderOptions) map[string]string {
	metadata := map[string]string{}
	if opts.Priority != "" {
		metadata["priority"] = opts.Priority
	}
	if opts.Source != "" {
		metadata["source"] = opts.Source
	}
	if opts.RequiresRender {
		metadata["requires_render"] = strconv.FormatBool(true)
	}
	return metadata
}

// GetOrderStatus returns the tenant's view of an order. Orders owned by
// another tenant are reported as not found.
func (s *Service) GetOrderStatus(ctx context.Context, orderID, brandID string) (*models.OrderStatus, error) {
	p, err := s.orchestrator.GetPipelineByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, models.ErrPipelineNotFound) {
			return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
		}
		return nil, err
	}
	if p.BrandID != brandID {
		return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, orderID)
	}

	errs, err := s.orchestrator.ListErrors(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	status := &models.OrderStatus{
		PipelineID:       p.ID,
		OrderID:          p.OrderID,
		BrandID:          p.BrandID,
		Status:           p.Status,
		CurrentStage:     p.CurrentStage,
		Progress:         p.Progress,
		Stalled:          p.Stalled,
		UnresolvedErrors: []*models.PipelineError{},
		Pipeline:         p,
	}
	for _, e := range errs {
		if !e.IsResolved() {
			status.UnresolvedErrors = append(status.UnresolvedErrors, e)
		}
	}
	if n := len(status.UnresolvedErrors); n > 0 {
		status.LastError = status.UnresolvedErrors[n-1].Error
	}
	return status, nil
}

// GetDashboardStats aggregates the tenant's pipelines
func (s *Service) GetDashboardStats(ctx context.Context, brandID string) (*models.DashboardStats, error) {
	pipelines, err := s.pipelines.ListPipelines(ctx, models.PipelineFilter{BrandID: brandID})
	if err != nil {
		return nil, err
	}

	stats := &models.DashboardStats{
		BrandID:  brandID,
		Total:    len(pipelines),
		ByStatus: make(map[models.PipelineStatus]int),
		ByStage:  make(map[models.Stage]int),
	}
	for _, p := range pipelines {
		stats.ByStatus[p.Status]++
		if p.IsActive() {
			stats.ByStage[p.CurrentStage]++
			if p.Stalled {
				stats.Stalled++
			}
		}
	}

	finished := stats.ByStatus[models.PipelineStatusCompleted] +
		stats.ByStatus[models.PipelineStatusFailed] +
		stats.ByStatus[models.PipelineStatusCancelled]
	if finished > 0 {
		stats.CompletionRate = float64(stats.ByStatus[models.PipelineStatusCompleted]) / float64(finished)
	}

	alerts, err := s.ListAlerts(ctx, brandID)
	if err != nil {
		return nil, err
	}
	stats.OpenAlerts = len(alerts)

	usage, err := s.quota.Usage(ctx, brandID)
	if err != nil {
		s.logger.Warn().Err(err).Str("brand_id", brandID).Msg("Failed to load quota usage")
	} else {
		stats.Usage = usage
	}
	return stats, nil
}

// ListAlerts returns unresolved terminal errors, oldest first. An empty
// brandID lists alerts across tenants for operators.
func (s *Service) ListAlerts(ctx context.Context, brandID string) ([]*models.PipelineError, error) {
	unresolved, err := s.pipelines.ListUnresolvedErrors(ctx, brandID)
	if err != nil {
		return nil, err
	}

	alerts := make([]*models.PipelineError, 0, len(unresolved))
	for _, e := range unresolved {
		if e.IsAlert() {
			alerts = append(alerts, e)
		}
	}
	return alerts, nil
}

// ResolveAlert clears an alert. The pipeline's status is left as is.
func (s *Service) ResolveAlert(ctx context.Context, brandID, errorID string) (*models.PipelineError, error) {
	record, err := s.pipelines.GetError(ctx, errorID)
	if err != nil {
		return nil, err
	}
	if brandID != "" && record.BrandID != brandID {
		return nil, fmt.Errorf("%w: pipeline error %s", models.ErrNotFound, errorID)
	}
	return s.orchestrator.ResolveError(ctx, errorID)
}
