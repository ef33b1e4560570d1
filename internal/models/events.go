package models

import "time"

// StageEvent is the payload of pipeline, render, production and fulfillment
// events. ReferenceID carries the collaborator's own id (render job, production
// order, shipment).
type StageEvent struct {
	PipelineID  string    `json:"pipeline_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty" validate:"required_without=PipelineID"`
	BrandID     string    `json:"brand_id,omitempty"`
	Stage       Stage     `json:"stage,omitempty"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Retryable   bool      `json:"retryable,omitempty"`
	Retry       bool      `json:"retry,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// SyncEvent is the payload of e-commerce sync bridge events.
type SyncEvent struct {
	SyncJobID    string    `json:"sync_job_id,omitempty"`
	ConnectionID string    `json:"connection_id" validate:"required"`
	BrandID      string    `json:"brand_id" validate:"required"`
	Type         string    `json:"type" validate:"required"`
	OrderIDs     []string  `json:"order_ids,omitempty"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// OperatorNotification is queued when a pipeline needs operator attention.
type OperatorNotification struct {
	Kind       string    `json:"kind"`
	PipelineID string    `json:"pipeline_id"`
	OrderID    string    `json:"order_id"`
	BrandID    string    `json:"brand_id"`
	Stage      Stage     `json:"stage"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// WebhookEvent is a collaborator milestone received through the webhook intake
// and delivered to the bus by the webhooks queue.
type WebhookEvent struct {
	Type    string     `json:"type" validate:"required"`
	Payload StageEvent `json:"payload"`
}
