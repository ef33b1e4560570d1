package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/httpclient"
	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/services/pipeline"
)

// DefaultEndpoint is the endpoints key used when a job type has no entry
const DefaultEndpoint = "default"

// LoopbackExecutor completes every job immediately. Used in development and
// tests where no collaborator services exist.
type LoopbackExecutor struct {
	logger arbor.ILogger
}

var _ interfaces.StageExecutor = (*LoopbackExecutor)(nil)

func NewLoopbackExecutor(logger arbor.ILogger) *LoopbackExecutor {
	return &LoopbackExecutor{logger: logger}
}

func (e *LoopbackExecutor) Execute(ctx context.Context, job *models.Job) (*models.StageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.logger.Trace().
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Msg("Loopback collaborator completed job")
	return &models.StageResult{
		Completed:   true,
		ReferenceID: "loopback-" + uuid.New().String(),
	}, nil
}

// HTTPExecutor POSTs each job to the collaborator endpoint registered for its
// job type. The response body, if any, is decoded as a StageResult; an empty
// 2xx response means the work was accepted and completion will arrive through
// the webhook intake.
type HTTPExecutor struct {
	client    *httpclient.JSONClient
	endpoints map[string]string
	logger    arbor.ILogger
}

var _ interfaces.StageExecutor = (*HTTPExecutor)(nil)

func NewHTTPExecutor(client *httpclient.JSONClient, endpoints map[string]string, logger arbor.ILogger) *HTTPExecutor {
	return &HTTPExecutor{
		client:    client,
		endpoints: endpoints,
		logger:    logger,
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, job *models.Job) (*models.StageResult, error) {
	stage, _ := pipeline.StageForJobType(job.JobType)

	url, ok := e.endpoints[job.JobType]
	if !ok {
		url, ok = e.endpoints[DefaultEndpoint]
	}
	if !ok || url == "" {
		return nil, &models.StageError{
			Stage:     stage,
			Message:   fmt.Sprintf("%v: %s", models.ErrNoStageExecutor, job.JobType),
			Retryable: false,
		}
	}

	var result models.StageResult
	err := e.client.PostJSON(ctx, url, job, &result)
	if err == nil {
		return &result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return nil, &models.StageError{
			Stage:     stage,
			Message:   statusErr.Error(),
			Retryable: statusErr.Temporary(),
		}
	}

	e.logger.Warn().
		Err(err).
		Str("job_type", job.JobType).
		Str("url", url).
		Msg("Collaborator unreachable")
	return nil, &models.StageError{
		Stage:     stage,
		Message:   fmt.Sprintf("%v: %v", models.ErrCollaboratorDown, err),
		Retryable: true,
	}
}
