package models

import "time"

// HealthStatus is the verdict of the queue monitor
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// severity orders verdicts so the worst one wins
func (h HealthStatus) severity() int {
	switch h {
	case HealthUnhealthy:
		return 2
	case HealthDegraded:
		return 1
	}
	return 0
}

// Worse returns the more severe of the two verdicts
func (h HealthStatus) Worse(other HealthStatus) HealthStatus {
	if other.severity() > h.severity() {
		return other
	}
	return h
}

// QueueMetrics is the dashboard view across all queues
type QueueMetrics struct {
	Queues      []*QueueStatus   `json:"queues"`
	Totals      map[JobState]int `json:"totals"`
	FailureRate float64          `json:"failure_rate"` // failed / (completed + failed), 0 when nothing settled
	PausedCount int              `json:"paused_queues"`
	CollectedAt time.Time        `json:"collected_at"`
}

// QueueHealth is the health verdict for one queue
type QueueHealth struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Reasons []string     `json:"reasons,omitempty"`
}

// HealthReport is the overall verdict plus per-queue detail
type HealthReport struct {
	Status    HealthStatus   `json:"status"`
	Queues    []*QueueHealth `json:"queues"`
	CheckedAt time.Time      `json:"checked_at"`
}
