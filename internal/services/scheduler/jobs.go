package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
)

const (
	JobQueueCleanup         = "queue-cleanup"
	JobStalledPipelineSweep = "stalled-pipeline-sweep"
)

const sweepTimeout = 2 * time.Minute

// RegisterDefaultJobs registers the queue cleanup and stalled pipeline sweeps.
// Nothing is registered when the scheduler is disabled in config.
func RegisterDefaultJobs(
	s interfaces.SchedulerService,
	queues interfaces.QueueManager,
	orchestrator interfaces.PipelineOrchestrator,
	config *common.Config,
	logger arbor.ILogger,
) error {
	if !config.Scheduler.Enabled {
		logger.Info().Msg("Scheduler disabled, periodic sweeps not registered")
		return nil
	}

	grace := common.ParseDurationOr(config.Scheduler.CleanupGrace, time.Hour)
	limit := config.Scheduler.CleanupLimit

	cleanup := func() error {
		removed, err := queues.CleanStale(grace, limit)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info().Int("removed", removed).Dur("grace", grace).Msg("Stale jobs cleaned")
		}
		return nil
	}
	if err := s.RegisterJob(JobQueueCleanup, config.Scheduler.CleanupSchedule,
		"Remove settled jobs older than the cleanup grace", false, cleanup); err != nil {
		return fmt.Errorf("failed to register %s: %w", JobQueueCleanup, err)
	}

	slas, defaultSLA := config.StageSLAs()
	sweep := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		flagged, err := orchestrator.FlagStalled(ctx, slas, defaultSLA)
		if err != nil {
			return err
		}
		if len(flagged) > 0 {
			logger.Warn().Int("flagged", len(flagged)).Msg("Stalled pipelines flagged")
		}
		return nil
	}
	if err := s.RegisterJob(JobStalledPipelineSweep, config.Scheduler.StalledSweepSchedule,
		"Flag pipelines whose current stage outlived its SLA", true, sweep); err != nil {
		return fmt.Errorf("failed to register %s: %w", JobStalledPipelineSweep, err)
	}

	return nil
}
