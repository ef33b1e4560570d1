// -----------------------------------------------------------------------
// Pipeline - per-order record tracking progress through fulfillment stages
// -----------------------------------------------------------------------

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage is one step in the fixed order-fulfillment sequence.
type Stage string

const (
	StageOrderReceived Stage = "ORDER_RECEIVED"
	StageRender        Stage = "RENDER"
	StageProduction    Stage = "PRODUCTION"
	StageQualityCheck  Stage = "QUALITY_CHECK"
	StageReadyToShip   Stage = "READY_TO_SHIP"
	StageFulfillment   Stage = "FULFILLMENT"
	StageCompleted     Stage = "COMPLETED"
	StageCancelled     Stage = "CANCELLED"
	StageFailed        Stage = "FAILED"
)

// orderedStages is the canonical forward order. Terminal CANCELLED and FAILED
// sit outside the order and are reachable from any non-terminal stage.
var orderedStages = []Stage{
	StageOrderReceived,
	StageRender,
	StageProduction,
	StageQualityCheck,
	StageReadyToShip,
	StageFulfillment,
	StageCompleted,
}

// OrderedStages returns the canonical stage order, ending with COMPLETED.
func OrderedStages() []Stage {
	cp := make([]Stage, len(orderedStages))
	copy(cp, orderedStages)
	return cp
}

// Index returns the position of the stage in the canonical order, or -1 for
// CANCELLED, FAILED and unknown values.
func (s Stage) Index() int {
	for i, stage := range orderedStages {
		if stage == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no transition may leave the stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageCancelled || s == StageFailed
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == StageCancelled || normalized == StageFailed {
		return normalized, true
	}
	if normalized.Index() < 0 {
		return "", false
	}
	return normalized, true
}

// PipelineStatus is the lifecycle status of a pipeline.
type PipelineStatus string

const (
	PipelineStatusNotStarted PipelineStatus = "NOT_STARTED"
	PipelineStatusInProgress PipelineStatus = "IN_PROGRESS"
	PipelineStatusCompleted  PipelineStatus = "COMPLETED"
	PipelineStatusFailed     PipelineStatus = "FAILED"
	PipelineStatusCancelled  PipelineStatus = "CANCELLED"
)

// AllPipelineStatuses lists every status in display order.
func AllPipelineStatuses() []PipelineStatus {
	return []PipelineStatus{
		PipelineStatusNotStarted,
		PipelineStatusInProgress,
		PipelineStatusCompleted,
		PipelineStatusFailed,
		PipelineStatusCancelled,
	}
}

// IsTerminal reports whether the status can no longer change.
func (s PipelineStatus) IsTerminal() bool {
	return s == PipelineStatusCompleted || s == PipelineStatusFailed || s == PipelineStatusCancelled
}

// TriggeredBy identifies what caused a stage transition.
type TriggeredBy string

const (
	TriggerAutomatic TriggeredBy = "automatic"
	TriggerManual    TriggeredBy = "manual"
	TriggerRetry     TriggeredBy = "retry"
)

// Pipeline tracks one order through the fulfillment stages.
// Rows are never deleted; they only move to a terminal status.
type Pipeline struct {
	ID             string            `json:"id"`
	OrderID        string            `json:"order_id" badgerhold:"index"`
	BrandID        string            `json:"brand_id" badgerhold:"index"`
	CurrentStage   Stage             `json:"current_stage"`
	Status         PipelineStatus    `json:"status"`
	Progress       int               `json:"progress"`
	Version        int64             `json:"version"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	FailedStage    Stage             `json:"failed_stage,omitempty"`
	CancelReason   string            `json:"cancel_reason,omitempty"`
	Stalled        bool              `json:"stalled"`
	StalledAt      *time.Time        `json:"stalled_at,omitempty"`
	StageEnteredAt time.Time         `json:"stage_entered_at"`
	RetriedAt      *time.Time        `json:"retried_at,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	FailedAt       *time.Time        `json:"failed_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// NewPipeline creates an in-progress pipeline positioned at ORDER_RECEIVED.
func NewPipeline(orderID, brandID string, metadata map[string]string) *Pipeline {
	now := time.Now().UTC()
	return &Pipeline{
		ID:             uuid.New().String(),
		OrderID:        orderID,
		BrandID:        brandID,
		CurrentStage:   StageOrderReceived,
		Status:         PipelineStatusInProgress,
		Progress:       StageProgress(StageOrderReceived),
		Metadata:       metadata,
		StageEnteredAt: now,
		StartedAt:      &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsActive reports whether the pipeline may still advance.
func (p *Pipeline) IsActive() bool {
	return p != nil && p.Status == PipelineStatusInProgress
}

// EnterStage moves the pipeline to a new stage and resets the stall flag.
func (p *Pipeline) EnterStage(stage Stage, at time.Time) {
	p.CurrentStage = stage
	p.Progress = StageProgress(stage)
	p.StageEnteredAt = at
	p.RetriedAt = nil
	p.Stalled = false
	p.StalledAt = nil
}

// SLASince is when the stall clock for the current stage started: the stage
// entry, or the latest retry of it.
func (p *Pipeline) SLASince() time.Time {
	if p.RetriedAt != nil && p.RetriedAt.After(p.StageEnteredAt) {
		return *p.RetriedAt
	}
	return p.StageEnteredAt
}

// StageProgress maps a stage to a 0-100 completion percentage.
func StageProgress(stage Stage) int {
	idx := stage.Index()
	if idx < 0 {
		return 0
	}
	return idx * 100 / (len(orderedStages) - 1)
}

// PipelineTransition is an append-only record of a stage change.
type PipelineTransition struct {
	ID          string      `json:"id"`
	PipelineID  string      `json:"pipeline_id" badgerhold:"index"`
	FromStage   Stage       `json:"from_stage"`
	ToStage     Stage       `json:"to_stage"`
	TriggeredBy TriggeredBy `json:"triggered_by"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewPipelineTransition creates a transition record stamped now.
func NewPipelineTransition(pipelineID string, from, to Stage, trigger TriggeredBy) *PipelineTransition {
	return &PipelineTransition{
		ID:          uuid.New().String(),
		PipelineID:  pipelineID,
		FromStage:   from,
		ToStage:     to,
		TriggeredBy: trigger,
		CreatedAt:   time.Now().UTC(),
	}
}

// PipelineError records a stage failure. ResolvedAt is set when an operator or
// automatic retry clears it.
type PipelineError struct {
	ID         string     `json:"id"`
	PipelineID string     `json:"pipeline_id" badgerhold:"index"`
	BrandID    string     `json:"brand_id"`
	Stage      Stage      `json:"stage"`
	Error      string     `json:"error"`
	Retryable  bool       `json:"retryable"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewPipelineError creates an unresolved error record.
func NewPipelineError(p *Pipeline, stage Stage, message string, retryable bool) *PipelineError {
	return &PipelineError{
		ID:         uuid.New().String(),
		PipelineID: p.ID,
		BrandID:    p.BrandID,
		Stage:      stage,
		Error:      message,
		Retryable:  retryable,
		CreatedAt:  time.Now().UTC(),
	}
}

// IsResolved reports whether the error has been cleared.
func (e *PipelineError) IsResolved() bool {
	return e.ResolvedAt != nil
}

// IsAlert reports whether the error needs operator attention.
func (e *PipelineError) IsAlert() bool {
	return !e.Retryable && e.ResolvedAt == nil
}
