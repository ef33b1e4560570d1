package models

import (
	"errors"
	"fmt"
)

// Admission errors
var (
	ErrDuplicatePipeline = errors.New("pipeline already exists for order")
	ErrQuotaExceeded     = errors.New("quota exceeded")
)

// Transition errors
var (
	ErrIllegalTransition = errors.New("illegal stage transition")
	ErrPipelineNotFound  = errors.New("pipeline not found")
	ErrAlreadyCompleted  = errors.New("pipeline already completed")
	ErrNotRetryable      = errors.New("stage is not retryable")
)

// Lookup and infrastructure errors
var (
	ErrNotFound         = errors.New("not found")
	ErrVersionConflict  = errors.New("pipeline version conflict")
	ErrQueueNotFound    = errors.New("queue not found")
	ErrQueueClosed      = errors.New("queue closed")
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidJobState  = errors.New("invalid job state")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnknownPlan      = errors.New("unknown plan")
	ErrNoStageExecutor  = errors.New("no executor for job type")
	ErrCollaboratorDown = errors.New("collaborator unavailable")
)

// QuotaExceededError reports the first violated quota dimension.
type QuotaExceededError struct {
	BrandID   string
	Dimension QuotaDimension
	Limit     int
	Used      int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %s used %d of %d", e.BrandID, e.Dimension, e.Used, e.Limit)
}

// Is lets errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// StageError is returned by stage executors. Retryable failures are retried
// with backoff by the orchestrator; others fail the pipeline.
type StageError struct {
	Stage     Stage
	Message   string
	Retryable bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Message)
}

// IsRetryable reports whether err should be retried. Errors that are not
// StageErrors are treated as transient.
func IsRetryable(err error) bool {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Retryable
	}
	return true
}
