package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/pce/internal/models"
)

// PipelineStorage - interface for pipeline, transition and error persistence
type PipelineStorage interface {
	// Pipeline operations
	// CreatePipeline fails with models.ErrDuplicatePipeline if the order already has one
	CreatePipeline(ctx context.Context, pipeline *models.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*models.Pipeline, error)
	GetPipelineByOrder(ctx context.Context, orderID string) (*models.Pipeline, error)
	// UpdatePipeline persists the pipeline if the stored version equals
	// pipeline.Version, then increments it. Fails with models.ErrVersionConflict.
	UpdatePipeline(ctx context.Context, pipeline *models.Pipeline) error
	ListPipelines(ctx context.Context, filter models.PipelineFilter) ([]*models.Pipeline, error)
	CountPipelines(ctx context.Context, brandID string, status models.PipelineStatus) (int, error)
	CountPipelinesCreatedSince(ctx context.Context, brandID string, since time.Time) (int, error)

	// Transition log
	AppendTransition(ctx context.Context, transition *models.PipelineTransition) error
	ListTransitions(ctx context.Context, pipelineID string) ([]*models.PipelineTransition, error)

	// Error records
	SaveError(ctx context.Context, pipelineErr *models.PipelineError) error
	GetError(ctx context.Context, id string) (*models.PipelineError, error)
	ListErrors(ctx context.Context, pipelineID string) ([]*models.PipelineError, error)
	ListUnresolvedErrors(ctx context.Context, brandID string) ([]*models.PipelineError, error)
}

// UsageStorage - interface for metered usage records
type UsageStorage interface {
	RecordUsage(ctx context.Context, record *models.UsageRecord) error
	SumUsage(ctx context.Context, brandID string, metric models.UsageMetric, since time.Time) (int, error)
	ListUsage(ctx context.Context, brandID string, since time.Time) ([]*models.UsageRecord, error)
}

// StorageManager - interface for managing all storage backends
type StorageManager interface {
	PipelineStorage() PipelineStorage
	UsageStorage() UsageStorage
	DB() interface{}
	Close() error
}
