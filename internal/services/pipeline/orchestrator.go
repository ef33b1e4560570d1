package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/queue"
)

// Config controls stage retry policy
type Config struct {
	StageMaxRetries int           // Attempts per stage visit before a retryable failure escalates
	RetryBackoff    queue.Backoff // Delay before the scheduled retry-stage job
	JobMaxAttempts  int           // MaxAttempts on enqueued stage jobs, 0 for the queue default
}

// NewDefaultConfig returns 3 attempts per stage with 1s doubling backoff capped at 1m
func NewDefaultConfig() Config {
	return Config{
		StageMaxRetries: 3,
		RetryBackoff:    queue.Exponential{Initial: time.Second, Max: time.Minute},
	}
}

// Orchestrator owns every pipeline mutation. Calls for the same pipeline are
// serialized by a per-id lock and guarded again by the versioned update in storage.
// Events are published after the lock is released so subscribers may call back in.
type Orchestrator struct {
	storage interfaces.PipelineStorage
	queues  interfaces.QueueManager
	events  interfaces.EventService
	locks   *keyedMutex
	config  Config
	logger  arbor.ILogger
}

var _ interfaces.PipelineOrchestrator = (*Orchestrator)(nil)

// NewOrchestrator creates a new pipeline orchestrator
func NewOrchestrator(
	storage interfaces.PipelineStorage,
	queues interfaces.QueueManager,
	events interfaces.EventService,
	config Config,
	logger arbor.ILogger,
) *Orchestrator {
	if config.StageMaxRetries < 1 {
		config.StageMaxRetries = 1
	}
	if config.RetryBackoff == nil {
		config.RetryBackoff = NewDefaultConfig().RetryBackoff
	}
	return &Orchestrator{
		storage: storage,
		queues:  queues,
		events:  events,
		locks:   newKeyedMutex(),
		config:  config,
		logger:  logger,
	}
}

// StartPipeline creates the pipeline for an order and enqueues order validation.
// A second call for the same order fails with ErrDuplicatePipeline.
func (o *Orchestrator) StartPipeline(ctx context.Context, orderID, brandID string, metadata map[string]string) (*models.Pipeline, error) {
	if orderID == "" || brandID == "" {
		return nil, fmt.Errorf("%w: order id and brand id are required", models.ErrInvalidRequest)
	}

	unlock := o.locks.Lock("order:" + orderID)
	p, err := func() (*models.Pipeline, error) {
		if existing, err := o.storage.GetPipelineByOrder(ctx, orderID); err == nil {
			return nil, fmt.Errorf("%w: order %s has pipeline %s", models.ErrDuplicatePipeline, orderID, existing.ID)
		} else if !errors.Is(err, models.ErrPipelineNotFound) {
			return nil, err
		}

		p := models.NewPipeline(orderID, brandID, metadata)
		if err := o.storage.CreatePipeline(ctx, p); err != nil {
			return nil, err
		}
		o.enqueueStage(ctx, p, false, 0)
		return p, nil
	}()
	unlock()

	if err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("pipeline_id", p.ID).
		Str("order_id", orderID).
		Str("brand_id", brandID).
		Msg("Pipeline started")

	o.publish(ctx, []interfaces.Event{
		{Type: interfaces.EventPipelineStarted, Payload: stageEvent(p, p.CurrentStage)},
		{Type: interfaces.EventPipelineStageStarted, Payload: stageEvent(p, p.CurrentStage)},
	})
	return p, nil
}

// AdvanceStage moves the pipeline to target, or one step forward when target is nil
func (o *Orchestrator) AdvanceStage(ctx context.Context, pipelineID string, target *models.Stage, trigger models.TriggeredBy) (*models.Pipeline, error) {
	if trigger == "" {
		trigger = models.TriggerAutomatic
	}
	if trigger == models.TriggerRetry {
		return nil, fmt.Errorf("%w: retry re-enters a stage through RetryStage", models.ErrIllegalTransition)
	}

	return o.withPipeline(ctx, pipelineID, func(p *models.Pipeline) ([]interfaces.Event, error) {
		if !p.IsActive() {
			return nil, inactiveError(p)
		}

		from := p.CurrentStage
		var to models.Stage
		if target != nil {
			to = *target
		} else {
			next, ok := NextStage(from)
			if !ok {
				return nil, fmt.Errorf("%w: no stage after %s", models.ErrIllegalTransition, from)
			}
			to = next
		}

		switch to {
		case models.StageCancelled:
			return o.cancelLocked(ctx, p, fmt.Sprintf("moved to %s (%s)", to, trigger))
		case models.StageFailed:
			message := fmt.Sprintf("moved to %s (%s)", to, trigger)
			if err := o.storage.SaveError(ctx, models.NewPipelineError(p, from, message, false)); err != nil {
				return nil, err
			}
			return o.failLocked(ctx, p, from, message, trigger)
		}

		if !CanTransition(from, to, trigger) {
			return nil, fmt.Errorf("%w: %s -> %s (%s)", models.ErrIllegalTransition, from, to, trigger)
		}

		now := time.Now().UTC()
		p.EnterStage(to, now)
		if to == models.StageCompleted {
			p.Status = models.PipelineStatusCompleted
			p.CompletedAt = &now
		}
		if err := o.storage.UpdatePipeline(ctx, p); err != nil {
			return nil, err
		}
		o.recordTransition(ctx, p.ID, from, to, trigger)

		o.logger.Info().
			Str("pipeline_id", p.ID).
			Str("from", string(from)).
			Str("to", string(to)).
			Str("trigger", string(trigger)).
			Msg("Pipeline stage advanced")

		events := []interfaces.Event{
			{Type: interfaces.EventPipelineStageCompleted, Payload: stageEvent(p, from)},
		}
		if to == models.StageCompleted {
			return append(events, interfaces.Event{Type: interfaces.EventPipelineCompleted, Payload: stageEvent(p, to)}), nil
		}

		o.enqueueStage(ctx, p, false, 0)
		return append(events, interfaces.Event{Type: interfaces.EventPipelineStageStarted, Payload: stageEvent(p, to)}), nil
	})
}

// RetryStage re-enqueues the current stage's job after a recorded failure
func (o *Orchestrator) RetryStage(ctx context.Context, pipelineID string) (*models.Pipeline, error) {
	return o.retry(ctx, pipelineID, nil)
}

// RetryStageAt is RetryStage that only fires while the pipeline is still at stage.
// Scheduled retries use it so a retry that outlived its stage is dropped.
func (o *Orchestrator) RetryStageAt(ctx context.Context, pipelineID string, stage models.Stage) (*models.Pipeline, error) {
	return o.retry(ctx, pipelineID, &stage)
}

func (o *Orchestrator) retry(ctx context.Context, pipelineID string, expected *models.Stage) (*models.Pipeline, error) {
	return o.withPipeline(ctx, pipelineID, func(p *models.Pipeline) ([]interfaces.Event, error) {
		if !p.IsActive() {
			return nil, inactiveError(p)
		}
		stage := p.CurrentStage
		if expected != nil && *expected != stage {
			return nil, fmt.Errorf("%w: pipeline %s moved from %s to %s", models.ErrIllegalTransition, p.ID, *expected, stage)
		}

		open, err := o.unresolvedFor(ctx, p, stage)
		if err != nil {
			return nil, err
		}
		if len(open) == 0 {
			return nil, fmt.Errorf("%w: no unresolved error for %s on pipeline %s", models.ErrNotRetryable, stage, p.ID)
		}

		// The versioned update goes first so a conflict leaves the errors open
		now := time.Now().UTC()
		p.Stalled = false
		p.StalledAt = nil
		p.RetriedAt = &now
		if err := o.storage.UpdatePipeline(ctx, p); err != nil {
			return nil, err
		}
		for _, e := range open {
			e.ResolvedAt = &now
			if err := o.storage.SaveError(ctx, e); err != nil {
				return nil, err
			}
		}
		o.recordTransition(ctx, p.ID, stage, stage, models.TriggerRetry)
		o.enqueueStage(ctx, p, true, 0)

		o.logger.Info().
			Str("pipeline_id", p.ID).
			Str("stage", string(stage)).
			Int("resolved_errors", len(open)).
			Msg("Pipeline stage retried")

		event := stageEvent(p, stage)
		event.Retry = true
		return []interfaces.Event{{Type: interfaces.EventPipelineStageStarted, Payload: event}}, nil
	})
}

// CancelPipeline stops further advancement. Cancelling twice is a no-op.
// In-flight jobs are left to finish; their events are ignored.
func (o *Orchestrator) CancelPipeline(ctx context.Context, pipelineID, reason string) (*models.Pipeline, error) {
	return o.withPipeline(ctx, pipelineID, func(p *models.Pipeline) ([]interfaces.Event, error) {
		switch p.Status {
		case models.PipelineStatusCancelled:
			return nil, nil
		case models.PipelineStatusCompleted:
			return nil, fmt.Errorf("%w: %s", models.ErrAlreadyCompleted, p.ID)
		case models.PipelineStatusFailed:
			return nil, fmt.Errorf("%w: pipeline %s already failed", models.ErrIllegalTransition, p.ID)
		}
		return o.cancelLocked(ctx, p, reason)
	})
}

func (o *Orchestrator) cancelLocked(ctx context.Context, p *models.Pipeline, reason string) ([]interfaces.Event, error) {
	from := p.CurrentStage
	now := time.Now().UTC()

	p.CurrentStage = models.StageCancelled
	p.Status = models.PipelineStatusCancelled
	p.CancelReason = reason
	p.CancelledAt = &now
	if err := o.storage.UpdatePipeline(ctx, p); err != nil {
		return nil, err
	}
	o.recordTransition(ctx, p.ID, from, models.StageCancelled, models.TriggerManual)

	o.logger.Info().
		Str("pipeline_id", p.ID).
		Str("stage", string(from)).
		Str("reason", reason).
		Msg("Pipeline cancelled")

	event := stageEvent(p, from)
	event.Reason = reason
	return []interfaces.Event{{Type: interfaces.EventPipelineCancelled, Payload: event}}, nil
}

// HandleStageFailed records a stage failure. Retryable failures below the
// attempt ceiling schedule a delayed retry-stage job; everything else fails
// the pipeline and raises an operator alert.
func (o *Orchestrator) HandleStageFailed(ctx context.Context, pipelineID string, stage models.Stage, message string, retryable bool) (*models.Pipeline, error) {
	return o.withPipeline(ctx, pipelineID, func(p *models.Pipeline) ([]interfaces.Event, error) {
		if !p.IsActive() {
			return nil, inactiveError(p)
		}
		if stage != p.CurrentStage {
			return nil, fmt.Errorf("%w: failure for %s but pipeline %s is at %s", models.ErrIllegalTransition, stage, p.ID, p.CurrentStage)
		}

		previous, err := o.attemptsAt(ctx, p, stage)
		if err != nil {
			return nil, err
		}
		attempt := previous + 1
		willRetry := retryable && attempt < o.config.StageMaxRetries

		if retryable && !willRetry {
			message = fmt.Sprintf("%s (retries exhausted after %d attempts)", message, attempt)
		}
		record := models.NewPipelineError(p, stage, message, willRetry)
		if err := o.storage.SaveError(ctx, record); err != nil {
			return nil, err
		}

		failed := stageEvent(p, stage)
		failed.Error = message
		failed.Retryable = willRetry

		if !willRetry {
			events, err := o.failLocked(ctx, p, stage, message, models.TriggerAutomatic)
			if err != nil {
				return nil, err
			}
			return append([]interfaces.Event{{Type: interfaces.EventPipelineStageFailed, Payload: failed}}, events...), nil
		}

		delay := o.config.RetryBackoff.Delay(attempt)
		payload := stagePayload(p, true)
		if _, err := o.queues.Enqueue(ctx, models.QueuePipeline, models.JobTypeRetryStage, payload, models.JobOptions{Delay: delay}); err != nil {
			o.logger.Error().Err(err).Str("pipeline_id", p.ID).Msg("Failed to schedule stage retry")
		}

		o.logger.Warn().
			Str("pipeline_id", p.ID).
			Str("stage", string(stage)).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Str("error", message).
			Msg("Stage failed, retry scheduled")

		return []interfaces.Event{{Type: interfaces.EventPipelineStageFailed, Payload: failed}}, nil
	})
}

// failLocked moves the pipeline to FAILED. The caller holds the pipeline lock.
func (o *Orchestrator) failLocked(ctx context.Context, p *models.Pipeline, stage models.Stage, message string, trigger models.TriggeredBy) ([]interfaces.Event, error) {
	from := p.CurrentStage
	now := time.Now().UTC()

	p.CurrentStage = models.StageFailed
	p.Status = models.PipelineStatusFailed
	p.FailedStage = stage
	p.FailedAt = &now
	if err := o.storage.UpdatePipeline(ctx, p); err != nil {
		return nil, err
	}
	o.recordTransition(ctx, p.ID, from, models.StageFailed, trigger)

	o.logger.Error().
		Str("pipeline_id", p.ID).
		Str("order_id", p.OrderID).
		Str("stage", string(stage)).
		Str("error", message).
		Msg("Pipeline failed")

	event := stageEvent(p, stage)
	event.Error = message
	return []interfaces.Event{
		{Type: interfaces.EventPipelineFailed, Payload: event},
		{Type: interfaces.EventPipelineAlert, Payload: event},
	}, nil
}

func (o *Orchestrator) GetPipeline(ctx context.Context, pipelineID string) (*models.Pipeline, error) {
	return o.storage.GetPipeline(ctx, pipelineID)
}

func (o *Orchestrator) GetPipelineByOrder(ctx context.Context, orderID string) (*models.Pipeline, error) {
	return o.storage.GetPipelineByOrder(ctx, orderID)
}

func (o *Orchestrator) ListTransitions(ctx context.Context, pipelineID string) ([]*models.PipelineTransition, error) {
	return o.storage.ListTransitions(ctx, pipelineID)
}

func (o *Orchestrator) ListErrors(ctx context.Context, pipelineID string) ([]*models.PipelineError, error) {
	return o.storage.ListErrors(ctx, pipelineID)
}

// ResolveError marks an error resolved. Resolving twice returns the original record.
func (o *Orchestrator) ResolveError(ctx context.Context, errorID string) (*models.PipelineError, error) {
	record, err := o.storage.GetError(ctx, errorID)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(record.PipelineID)
	defer unlock()

	record, err = o.storage.GetError(ctx, errorID)
	if err != nil {
		return nil, err
	}
	if record.IsResolved() {
		return record, nil
	}

	now := time.Now().UTC()
	record.ResolvedAt = &now
	if err := o.storage.SaveError(ctx, record); err != nil {
		return nil, err
	}

	o.logger.Info().Str("error_id", errorID).Str("pipeline_id", record.PipelineID).Msg("Pipeline error resolved")
	return record, nil
}

// FlagStalled marks in-progress pipelines that sat in their current stage past
// its SLA. Pipelines are never cancelled here.
func (o *Orchestrator) FlagStalled(ctx context.Context, slas map[models.Stage]time.Duration, defaultSLA time.Duration) ([]*models.Pipeline, error) {
	active, err := o.storage.ListPipelines(ctx, models.PipelineFilter{Status: models.PipelineStatusInProgress})
	if err != nil {
		return nil, err
	}

	var flagged []*models.Pipeline
	for _, candidate := range active {
		if candidate.Stalled || !isOverdue(candidate, slas, defaultSLA) {
			continue
		}

		p, err := o.withPipeline(ctx, candidate.ID, func(p *models.Pipeline) ([]interfaces.Event, error) {
			if !p.IsActive() || p.Stalled || !isOverdue(p, slas, defaultSLA) {
				return nil, errNotStalled
			}
			now := time.Now().UTC()
			p.Stalled = true
			p.StalledAt = &now
			if err := o.storage.UpdatePipeline(ctx, p); err != nil {
				return nil, err
			}
			o.logger.Warn().
				Str("pipeline_id", p.ID).
				Str("stage", string(p.CurrentStage)).
				Dur("in_stage", now.Sub(p.SLASince())).
				Msg("Pipeline stalled")
			return []interfaces.Event{{Type: interfaces.EventPipelineStalled, Payload: stageEvent(p, p.CurrentStage)}}, nil
		})
		if errors.Is(err, errNotStalled) {
			continue
		}
		if err != nil {
			o.logger.Warn().Err(err).Str("pipeline_id", candidate.ID).Msg("Failed to flag stalled pipeline")
			continue
		}
		flagged = append(flagged, p)
	}
	return flagged, nil
}

var errNotStalled = errors.New("pipeline not stalled")

func isOverdue(p *models.Pipeline, slas map[models.Stage]time.Duration, defaultSLA time.Duration) bool {
	window, ok := slas[p.CurrentStage]
	if !ok || window <= 0 {
		window = defaultSLA
	}
	if window <= 0 {
		return false
	}
	return time.Since(p.SLASince()) > window
}

// Reconcile re-enqueues work for every in-progress pipeline. In-memory queues
// lose their jobs on restart; the pipeline rows are the source of truth.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	active, err := o.storage.ListPipelines(ctx, models.PipelineFilter{Status: models.PipelineStatusInProgress})
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, candidate := range active {
		unlock := o.locks.Lock(candidate.ID)
		p, err := o.storage.GetPipeline(ctx, candidate.ID)
		if err == nil && p.IsActive() {
			open, openErr := o.unresolvedFor(ctx, p, p.CurrentStage)
			switch {
			case openErr != nil:
				err = openErr
			case len(open) > 0:
				_, err = o.queues.Enqueue(ctx, models.QueuePipeline, models.JobTypeRetryStage, stagePayload(p, true), models.JobOptions{})
			default:
				err = o.enqueueStage(ctx, p, false, 0)
			}
			if err == nil {
				requeued++
			}
		}
		unlock()

		if err != nil {
			o.logger.Warn().Err(err).Str("pipeline_id", candidate.ID).Msg("Failed to reconcile pipeline")
		}
	}

	o.logger.Info().Int("pipelines", len(active)).Int("requeued", requeued).Msg("Pipelines reconciled")
	return requeued, nil
}

// withPipeline loads the pipeline under its lock, runs fn, then publishes the
// returned events once the lock is released.
func (o *Orchestrator) withPipeline(ctx context.Context, pipelineID string, fn func(p *models.Pipeline) ([]interfaces.Event, error)) (*models.Pipeline, error) {
	unlock := o.locks.Lock(pipelineID)
	p, err := o.storage.GetPipeline(ctx, pipelineID)
	var events []interfaces.Event
	if err == nil {
		events, err = fn(p)
	}
	unlock()

	if err != nil {
		return nil, err
	}
	o.publish(ctx, events)
	return p, nil
}

func (o *Orchestrator) publish(ctx context.Context, events []interfaces.Event) {
	for _, event := range events {
		if err := o.events.Publish(ctx, event); err != nil {
			o.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to publish event")
		}
	}
}

// enqueueStage hands the current stage to its queue. Failures are logged: the
// pipeline row is already persisted and Reconcile or the stall sweep recovers it.
func (o *Orchestrator) enqueueStage(ctx context.Context, p *models.Pipeline, retry bool, delay time.Duration) error {
	route, ok := RouteFor(p.CurrentStage)
	if !ok {
		return fmt.Errorf("%w: stage %s has no queue", models.ErrIllegalTransition, p.CurrentStage)
	}

	opts := models.JobOptions{Delay: delay, MaxAttempts: o.config.JobMaxAttempts}
	jobID, err := o.queues.Enqueue(ctx, route.Queue, route.JobType, stagePayload(p, retry), opts)
	if err != nil {
		o.logger.Error().
			Err(err).
			Str("pipeline_id", p.ID).
			Str("queue", route.Queue).
			Str("job_type", route.JobType).
			Msg("Failed to enqueue stage job")
		return err
	}

	o.logger.Debug().
		Str("pipeline_id", p.ID).
		Str("queue", route.Queue).
		Str("job_id", jobID).
		Msg("Stage job enqueued")
	return nil
}

func (o *Orchestrator) recordTransition(ctx context.Context, pipelineID string, from, to models.Stage, trigger models.TriggeredBy) {
	transition := models.NewPipelineTransition(pipelineID, from, to, trigger)
	if err := o.storage.AppendTransition(ctx, transition); err != nil {
		o.logger.Error().Err(err).Str("pipeline_id", pipelineID).Msg("Failed to record transition")
	}
}

// unresolvedFor returns unresolved errors recorded for stage during its current visit
func (o *Orchestrator) unresolvedFor(ctx context.Context, p *models.Pipeline, stage models.Stage) ([]*models.PipelineError, error) {
	all, err := o.storage.ListErrors(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	var open []*models.PipelineError
	for _, e := range all {
		if e.Stage == stage && !e.IsResolved() {
			open = append(open, e)
		}
	}
	return open, nil
}

// attemptsAt counts failures recorded since the pipeline entered stage
func (o *Orchestrator) attemptsAt(ctx context.Context, p *models.Pipeline, stage models.Stage) (int, error) {
	all, err := o.storage.ListErrors(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range all {
		if e.Stage == stage && !e.CreatedAt.Before(p.StageEnteredAt) {
			count++
		}
	}
	return count, nil
}

func inactiveError(p *models.Pipeline) error {
	if p.Status == models.PipelineStatusCompleted {
		return fmt.Errorf("%w: %s", models.ErrAlreadyCompleted, p.ID)
	}
	return fmt.Errorf("%w: pipeline %s is %s", models.ErrPipelineNotFound, p.ID, p.Status)
}

func stagePayload(p *models.Pipeline, retry bool) models.StageJobPayload {
	return models.StageJobPayload{
		PipelineID: p.ID,
		OrderID:    p.OrderID,
		BrandID:    p.BrandID,
		Stage:      p.CurrentStage,
		Retry:      retry,
	}
}

func stageEvent(p *models.Pipeline, stage models.Stage) *models.StageEvent {
	return &models.StageEvent{
		PipelineID: p.ID,
		OrderID:    p.OrderID,
		BrandID:    p.BrandID,
		Stage:      stage,
		OccurredAt: time.Now().UTC(),
	}
}
