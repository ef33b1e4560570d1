package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/pce/internal/models"
)

// PipelineOrchestrator is the only component permitted to mutate a pipeline
type PipelineOrchestrator interface {
	StartPipeline(ctx context.Context, orderID, brandID string, metadata map[string]string) (*models.Pipeline, error)
	// AdvanceStage moves to target, or to the next stage when target is nil
	AdvanceStage(ctx context.Context, pipelineID string, target *models.Stage, trigger models.TriggeredBy) (*models.Pipeline, error)
	RetryStage(ctx context.Context, pipelineID string) (*models.Pipeline, error)
	// RetryStageAt retries only if the pipeline is still at stage
	RetryStageAt(ctx context.Context, pipelineID string, stage models.Stage) (*models.Pipeline, error)
	CancelPipeline(ctx context.Context, pipelineID, reason string) (*models.Pipeline, error)
	HandleStageFailed(ctx context.Context, pipelineID string, stage models.Stage, message string, retryable bool) (*models.Pipeline, error)

	GetPipeline(ctx context.Context, pipelineID string) (*models.Pipeline, error)
	GetPipelineByOrder(ctx context.Context, orderID string) (*models.Pipeline, error)
	ListTransitions(ctx context.Context, pipelineID string) ([]*models.PipelineTransition, error)
	ListErrors(ctx context.Context, pipelineID string) ([]*models.PipelineError, error)
	ResolveError(ctx context.Context, errorID string) (*models.PipelineError, error)

	// FlagStalled marks pipelines whose current stage outlived its SLA. Returns the flagged pipelines.
	FlagStalled(ctx context.Context, slas map[models.Stage]time.Duration, defaultSLA time.Duration) ([]*models.Pipeline, error)
	// Reconcile re-enqueues the current-stage job of every in-progress pipeline
	Reconcile(ctx context.Context) (int, error)
}

// ProcessOrderOptions are caller hints attached to an order
type ProcessOrderOptions struct {
	Priority       string `json:"priority,omitempty" validate:"omitempty,oneof=low normal high"`
	Source         string `json:"source,omitempty"`
	RequiresRender bool   `json:"requires_render,omitempty"`
}

// ProcessOrderRequest is the external entry point into the engine
type ProcessOrderRequest struct {
	OrderID string              `json:"order_id" validate:"required,max=128"`
	BrandID string              `json:"brand_id" validate:"required,max=128"`
	Options ProcessOrderOptions `json:"options"`
}

// PCEService is the tenant-facing entry point
type PCEService interface {
	ProcessOrder(ctx context.Context, req ProcessOrderRequest) (*models.Pipeline, error)
	GetOrderStatus(ctx context.Context, orderID, brandID string) (*models.OrderStatus, error)
	GetDashboardStats(ctx context.Context, brandID string) (*models.DashboardStats, error)
	ListAlerts(ctx context.Context, brandID string) ([]*models.PipelineError, error)
	ResolveAlert(ctx context.Context, brandID, errorID string) (*models.PipelineError, error)
}

// StageExecutor hands a job to the collaborator that owns its job type.
// Implementations return *models.StageError to control retryability. A result
// with Completed unset means the collaborator accepted the work and will report
// completion later through the webhook intake.
type StageExecutor interface {
	Execute(ctx context.Context, job *models.Job) (*models.StageResult, error)
}

// PlanResolver maps a tenant to its subscription plan
type PlanResolver interface {
	ResolvePlan(ctx context.Context, brandID string) (string, models.QuotaLimits, error)
}

// QuotaChecker performs admission control. Check has no side effects.
type QuotaChecker interface {
	Check(ctx context.Context, brandID string, dimensions ...models.QuotaDimension) error
	Usage(ctx context.Context, brandID string) (*models.QuotaUsage, error)
}
