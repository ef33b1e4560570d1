package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// Thresholds decide when a queue is degraded or unhealthy. A zero value disables the check.
type Thresholds struct {
	DegradedFailed   int
	DegradedWaiting  int
	UnhealthyFailed  int
	UnhealthyWaiting int
}

// DefaultThresholds returns the thresholds used when none are configured
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedFailed:   10,
		DegradedWaiting:  100,
		UnhealthyFailed:  100,
		UnhealthyWaiting: 1000,
	}
}

// Monitor derives dashboard metrics and health verdicts from queue counts
type Monitor struct {
	manager    interfaces.QueueManager
	thresholds Thresholds
	logger     arbor.ILogger
}

// NewMonitor creates a queue monitor
func NewMonitor(manager interfaces.QueueManager, thresholds Thresholds, logger arbor.ILogger) *Monitor {
	return &Monitor{
		manager:    manager,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Metrics aggregates counts across all queues
func (m *Monitor) Metrics(ctx context.Context) *models.QueueMetrics {
	statuses := m.manager.GetAllQueueStatuses()

	metrics := &models.QueueMetrics{
		Queues:      statuses,
		Totals:      make(map[models.JobState]int),
		CollectedAt: time.Now().UTC(),
	}
	for _, status := range statuses {
		for state, count := range status.Counts {
			metrics.Totals[state] += count
		}
		if status.Paused {
			metrics.PausedCount++
		}
	}

	settled := metrics.Totals[models.JobStateCompleted] + metrics.Totals[models.JobStateFailed]
	if settled > 0 {
		metrics.FailureRate = float64(metrics.Totals[models.JobStateFailed]) / float64(settled)
	}
	return metrics
}

// Health evaluates every queue; the overall verdict is the worst queue verdict
func (m *Monitor) Health(ctx context.Context) *models.HealthReport {
	report := &models.HealthReport{
		Status:    models.HealthHealthy,
		CheckedAt: time.Now().UTC(),
	}

	for _, status := range m.manager.GetAllQueueStatuses() {
		queueHealth := m.evaluate(status)
		report.Queues = append(report.Queues, queueHealth)
		report.Status = report.Status.Worse(queueHealth.Status)
	}

	if report.Status != models.HealthHealthy {
		m.logger.Warn().Str("status", string(report.Status)).Msg("Queue health check not healthy")
	}
	return report
}

func (m *Monitor) evaluate(status *models.QueueStatus) *models.QueueHealth {
	health := &models.QueueHealth{Name: status.Name, Status: models.HealthHealthy}
	failed := status.Counts[models.JobStateFailed]
	waiting := status.Counts[models.JobStateWaiting]

	flag := func(verdict models.HealthStatus, reason string) {
		health.Status = health.Status.Worse(verdict)
		health.Reasons = append(health.Reasons, reason)
	}

	if status.Paused {
		flag(models.HealthDegraded, "queue is paused")
	}

	switch {
	case m.thresholds.UnhealthyFailed > 0 && failed >= m.thresholds.UnhealthyFailed:
		flag(models.HealthUnhealthy, fmt.Sprintf("%d failed jobs (unhealthy at %d)", failed, m.thresholds.UnhealthyFailed))
	case m.thresholds.DegradedFailed > 0 && failed >= m.thresholds.DegradedFailed:
		flag(models.HealthDegraded, fmt.Sprintf("%d failed jobs (degraded at %d)", failed, m.thresholds.DegradedFailed))
	}

	switch {
	case m.thresholds.UnhealthyWaiting > 0 && waiting >= m.thresholds.UnhealthyWaiting:
		flag(models.HealthUnhealthy, fmt.Sprintf("%d waiting jobs (unhealthy at %d)", waiting, m.thresholds.UnhealthyWaiting))
	case m.thresholds.DegradedWaiting > 0 && waiting >= m.thresholds.DegradedWaiting:
		flag(models.HealthDegraded, fmt.Sprintf("%d waiting jobs (degraded at %d)", waiting, m.thresholds.DegradedWaiting))
	}

	return health
}
