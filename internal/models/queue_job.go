package models

import (
	"encoding/json"
	"time"
)

// Queue names owned by the queue manager.
const (
	QueuePipeline      = "pipeline"
	QueueRender        = "render"
	QueueProduction    = "production"
	QueueFulfillment   = "fulfillment"
	QueueSync          = "sync"
	QueueWebhooks      = "webhooks"
	QueueNotifications = "notifications"
)

// AllQueueNames returns the queues created at startup.
func AllQueueNames() []string {
	return []string{
		QueuePipeline,
		QueueRender,
		QueueProduction,
		QueueFulfillment,
		QueueSync,
		QueueWebhooks,
		QueueNotifications,
	}
}

// Job types routed through the queues.
const (
	JobTypeValidateOrder    = "validate-order"
	JobTypeRetryStage       = "retry-stage"
	JobTypeRender2D         = "render-2d"
	JobTypeProductionSubmit = "production-submit"
	JobTypeQualityCheck     = "quality-check"
	JobTypePrepareShipment  = "prepare-shipment"
	JobTypeShipOrder        = "ship-order"
	JobTypeSyncProducts     = "sync-products"
	JobTypeSyncOrders       = "sync-orders"
	JobTypeSyncInventory    = "sync-inventory"
	JobTypeSyncFull         = "sync-full"
	JobTypeDeliverEvent     = "deliver-event"
	JobTypeNotifyOperator   = "notify-operator"
)

// IsSyncJobType reports whether the job type belongs to the e-commerce sync bridge.
func IsSyncJobType(jobType string) bool {
	switch jobType {
	case JobTypeSyncProducts, JobTypeSyncOrders, JobTypeSyncInventory, JobTypeSyncFull:
		return true
	}
	return false
}

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	// JobStatePaused is only reported by counts: waiting jobs held by a paused queue.
	JobStatePaused JobState = "paused"
)

// AllJobStates lists the states a job can occupy.
func AllJobStates() []JobState {
	return []JobState{
		JobStateWaiting,
		JobStateDelayed,
		JobStateActive,
		JobStateCompleted,
		JobStateFailed,
	}
}

// Job is a unit of asynchronous work owned by a queue. The payload is opaque to
// the queue; pipeline correlation lives inside it.
type Job struct {
	ID          string          `json:"id"`
	QueueName   string          `json:"queue_name"`
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	State       JobState        `json:"state"`
	LastError   string          `json:"last_error,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
}

// FinishedAt returns the time the job settled, if it has.
func (j *Job) FinishedAt() *time.Time {
	switch j.State {
	case JobStateCompleted:
		return j.CompletedAt
	case JobStateFailed:
		return j.FailedAt
	}
	return nil
}

// JobOptions controls scheduling and retry for an enqueued job.
type JobOptions struct {
	Delay       time.Duration
	MaxAttempts int
}

// QueueStatus is a read-only projection of one queue.
type QueueStatus struct {
	Name   string           `json:"name"`
	Paused bool             `json:"paused"`
	Counts map[JobState]int `json:"counts"`
}

// Total returns the number of jobs held by the queue.
func (s QueueStatus) Total() int {
	total := 0
	for _, state := range AllJobStates() {
		total += s.Counts[state]
	}
	return total
}

// StageJobPayload is the payload of every stage job enqueued by the orchestrator.
type StageJobPayload struct {
	PipelineID string `json:"pipeline_id"`
	OrderID    string `json:"order_id"`
	BrandID    string `json:"brand_id"`
	Stage      Stage  `json:"stage"`
	Retry      bool   `json:"retry,omitempty"`
}

// SyncJobPayload is consumed by the e-commerce sync bridge.
type SyncJobPayload struct {
	ConnectionID string `json:"connection_id" validate:"required"`
	BrandID      string `json:"brand_id" validate:"required"`
	Type         string `json:"type" validate:"required,oneof=sync-products sync-orders sync-inventory sync-full"`
}

// StageResult is returned by a stage executor. OrderIDs is only set by
// sync-orders and sync-full runs.
type StageResult struct {
	Completed   bool     `json:"completed"`
	ReferenceID string   `json:"reference_id,omitempty"`
	OrderIDs    []string `json:"order_ids,omitempty"`
}
