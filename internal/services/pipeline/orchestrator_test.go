package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
	"github.com/ternarybob/pce/internal/queue"
	"github.com/ternarybob/pce/internal/services/events"
	badgerstore "github.com/ternarybob/pce/internal/storage/badger"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *eventRecorder) handle(ctx context.Context, event interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) count(eventType interfaces.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type testHarness struct {
	orchestrator *Orchestrator
	storage      interfaces.PipelineStorage
	config       Config
	queues       *queue.Manager
	bus          *events.Service
	recorder     *eventRecorder
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := arbor.NewNoOpLogger()

	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	queues := queue.NewManager(logger, queue.NewDefaultConfig(), models.AllQueueNames()...)
	t.Cleanup(func() { _ = queues.Close() })

	bus := events.NewService(logger)
	recorder := &eventRecorder{}
	for _, eventType := range interfaces.AllEventTypes() {
		subscribe(t, bus, eventType, recorder.handle)
	}

	config := NewDefaultConfig()
	config.RetryBackoff = queue.Constant{Interval: time.Hour}

	storage := badgerstore.NewPipelineStorage(db, logger)
	return &testHarness{
		orchestrator: NewOrchestrator(storage, queues, bus, config, logger),
		storage:      storage,
		config:       config,
		queues:       queues,
		bus:          bus,
		recorder:     recorder,
	}
}

func (h *testHarness) waiting(t *testing.T, queueName string, state models.JobState) int {
	t.Helper()
	status, err := h.queues.GetQueueStatus(queueName)
	require.NoError(t, err)
	return status.Counts[state]
}

func stagePtr(s models.Stage) *models.Stage { return &s }

func TestOrchestrator_WalksToCompleted(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StageOrderReceived, p.CurrentStage)
	assert.Equal(t, models.PipelineStatusInProgress, p.Status)
	assert.Equal(t, 1, h.waiting(t, models.QueuePipeline, models.JobStateWaiting))

	expected := []models.Stage{
		models.StageRender,
		models.StageProduction,
		models.StageQualityCheck,
		models.StageReadyToShip,
		models.StageFulfillment,
	}
	for _, stage := range expected {
		p, err = h.orchestrator.AdvanceStage(ctx, p.ID, nil, models.TriggerAutomatic)
		require.NoError(t, err)
		assert.Equal(t, stage, p.CurrentStage)
		assert.Equal(t, models.PipelineStatusInProgress, p.Status)
	}

	p, err = h.orchestrator.AdvanceStage(ctx, p.ID, nil, models.TriggerAutomatic)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, p.CurrentStage)
	assert.Equal(t, models.PipelineStatusCompleted, p.Status)
	assert.Equal(t, 100, p.Progress)
	assert.NotNil(t, p.CompletedAt)

	transitions, err := h.orchestrator.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, transitions, 6)
	for _, tr := range transitions {
		assert.Equal(t, models.TriggerAutomatic, tr.TriggeredBy)
	}

	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineStarted))
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineCompleted))
	assert.Equal(t, 6, h.recorder.count(interfaces.EventPipelineStageCompleted))

	// One job per working stage
	assert.Equal(t, 1, h.waiting(t, models.QueueRender, models.JobStateWaiting))
	assert.Equal(t, 2, h.waiting(t, models.QueueProduction, models.JobStateWaiting))
	assert.Equal(t, 2, h.waiting(t, models.QueueFulfillment, models.JobStateWaiting))

	_, err = h.orchestrator.AdvanceStage(ctx, p.ID, nil, models.TriggerAutomatic)
	assert.ErrorIs(t, err, models.ErrAlreadyCompleted)
	_, err = h.orchestrator.RetryStage(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyCompleted)
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineCompleted))
}

func TestOrchestrator_StartRejectsDuplicates(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orchestrator.StartPipeline(ctx, "order-dup", "brand-A", nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrDuplicatePipeline)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineStarted))
	assert.Equal(t, 1, h.waiting(t, models.QueuePipeline, models.JobStateWaiting))
}

func TestOrchestrator_StartValidatesInput(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.orchestrator.StartPipeline(context.Background(), "", "brand-A", nil)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	_, err = h.orchestrator.StartPipeline(context.Background(), "order-1", "", nil)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestOrchestrator_ConcurrentAdvanceSingleWinner(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orchestrator.AdvanceStage(ctx, p.ID, stagePtr(models.StageRender), models.TriggerAutomatic)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrIllegalTransition)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineStageCompleted))
	assert.Equal(t, 1, h.waiting(t, models.QueueRender, models.JobStateWaiting))

	current, err := h.orchestrator.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageRender, current.CurrentStage)
}

func TestOrchestrator_AutomaticCannotSkip(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)

	_, err = h.orchestrator.AdvanceStage(ctx, p.ID, stagePtr(models.StageProduction), models.TriggerAutomatic)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	p, err = h.orchestrator.AdvanceStage(ctx, p.ID, stagePtr(models.StageProduction), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.StageProduction, p.CurrentStage)

	_, err = h.orchestrator.AdvanceStage(ctx, p.ID, stagePtr(models.StageRender), models.TriggerManual)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	_, err = h.orchestrator.AdvanceStage(ctx, p.ID, nil, models.TriggerRetry)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestOrchestrator_CancelIsIdempotentAndFinal(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	p, err = h.orchestrator.AdvanceStage(ctx, p.ID, nil, models.TriggerAutomatic)
	require.NoError(t, err)
	require.Equal(t, models.StageRender, p.CurrentStage)

	p, err = h.orchestrator.CancelPipeline(ctx, p.ID, "customer request")
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusCancelled, p.Status)
	assert.Equal(t, models.StageCancelled, p.CurrentStage)
	assert.Equal(t, "customer request", p.CancelReason)
	assert.NotNil(t, p.CancelledAt)

	again, err := h.orchestrator.CancelPipeline(ctx, p.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "customer request", again.CancelReason)
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineCancelled))

	// A late render completion must not reopen the pipeline
	_, err = h.orchestrator.AdvanceStage(ctx, p.ID, stagePtr(models.StageProduction), models.TriggerAutomatic)
	assert.ErrorIs(t, err, models.ErrPipelineNotFound)
	_, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageRender, "late", true)
	assert.ErrorIs(t, err, models.ErrPipelineNotFound)
	_, err = h.orchestrator.RetryStage(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrPipelineNotFound)

	current, err := h.orchestrator.GetPipeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusCancelled, current.Status)
}

func TestOrchestrator_CancelCompletedFails(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	_, err = h.orchestrator.AdvanceStage(ctx, p.ID, stagePtr(models.StageCompleted), models.TriggerManual)
	require.NoError(t, err)

	_, err = h.orchestrator.CancelPipeline(ctx, p.ID, "too late")
	assert.ErrorIs(t, err, models.ErrAlreadyCompleted)

	_, err = h.orchestrator.CancelPipeline(ctx, "missing", "nothing")
	assert.ErrorIs(t, err, models.ErrPipelineNotFound)
}

func TestOrchestrator_RetryableFailureSchedulesRetry(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)

	_, err = h.orchestrator.RetryStage(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrNotRetryable)

	p, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "commerce api timeout", true)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusInProgress, p.Status)
	assert.Equal(t, 1, h.waiting(t, models.QueuePipeline, models.JobStateDelayed))
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineStageFailed))

	p, err = h.orchestrator.RetryStage(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageOrderReceived, p.CurrentStage)

	errs, err := h.orchestrator.ListErrors(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].IsResolved())

	transitions, err := h.orchestrator.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.TriggerRetry, transitions[0].TriggeredBy)
	assert.Equal(t, models.StageOrderReceived, transitions[0].FromStage)
	assert.Equal(t, models.StageOrderReceived, transitions[0].ToStage)

	// Initial validate-order plus the retried one
	assert.Equal(t, 2, h.waiting(t, models.QueuePipeline, models.JobStateWaiting))

	_, err = h.orchestrator.RetryStage(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrNotRetryable)
}

func TestOrchestrator_RetriesExhaustedFailsPipeline(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	p, err = h.orchestrator.AdvanceStage(ctx, p.ID, nil, models.TriggerAutomatic)
	require.NoError(t, err)

	for attempt := 1; attempt < 3; attempt++ {
		p, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageRender, "renderer busy", true)
		require.NoError(t, err)
		require.Equal(t, models.PipelineStatusInProgress, p.Status, "attempt %d", attempt)
		_, err = h.orchestrator.RetryStage(ctx, p.ID)
		require.NoError(t, err)
	}

	p, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageRender, "renderer busy", true)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusFailed, p.Status)
	assert.Equal(t, models.StageFailed, p.CurrentStage)
	assert.Equal(t, models.StageRender, p.FailedStage)
	assert.NotNil(t, p.FailedAt)

	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineFailed))
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineAlert))

	errs, err := h.orchestrator.ListErrors(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, errs, 3)
	last := errs[len(errs)-1]
	assert.True(t, last.IsAlert())
	assert.Contains(t, last.Error, "retries exhausted")

	_, err = h.orchestrator.RetryStage(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrPipelineNotFound)
	_, err = h.orchestrator.CancelPipeline(ctx, p.ID, "after failure")
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestOrchestrator_NonRetryableFailsImmediately(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)

	p, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "order has no line items", false)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusFailed, p.Status)
	assert.Equal(t, models.StageOrderReceived, p.FailedStage)
	assert.Equal(t, 0, h.waiting(t, models.QueuePipeline, models.JobStateDelayed))

	transitions, err := h.orchestrator.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.StageFailed, transitions[0].ToStage)
}

func TestOrchestrator_StaleFailureAndRetryRejected(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	_, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "timeout", true)
	require.NoError(t, err)

	// Operator skips ahead before the scheduled retry fires
	_, err = h.orchestrator.AdvanceStage(ctx, p.ID, stagePtr(models.StageRender), models.TriggerManual)
	require.NoError(t, err)

	_, err = h.orchestrator.RetryStageAt(ctx, p.ID, models.StageOrderReceived)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	_, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "late", true)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestOrchestrator_ResolveError(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	_, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "bad address", false)
	require.NoError(t, err)

	errs, err := h.orchestrator.ListErrors(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)

	resolved, err := h.orchestrator.ResolveError(ctx, errs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	first := *resolved.ResolvedAt

	again, err := h.orchestrator.ResolveError(ctx, errs[0].ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*again.ResolvedAt))

	_, err = h.orchestrator.ResolveError(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOrchestrator_FlagStalled(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	stalled, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	fresh, err := h.orchestrator.StartPipeline(ctx, "order-2", "brand-A", nil)
	require.NoError(t, err)
	_, err = h.orchestrator.AdvanceStage(ctx, fresh.ID, nil, models.TriggerAutomatic)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	slas := map[models.Stage]time.Duration{
		models.StageOrderReceived: time.Millisecond,
		models.StageRender:        time.Hour,
	}

	flagged, err := h.orchestrator.FlagStalled(ctx, slas, time.Hour)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, stalled.ID, flagged[0].ID)
	assert.True(t, flagged[0].Stalled)
	assert.Equal(t, models.PipelineStatusInProgress, flagged[0].Status)
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineStalled))

	flagged, err = h.orchestrator.FlagStalled(ctx, slas, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, flagged)

	// Advancing clears the flag
	p, err := h.orchestrator.AdvanceStage(ctx, stalled.ID, nil, models.TriggerAutomatic)
	require.NoError(t, err)
	assert.False(t, p.Stalled)
}

func TestOrchestrator_Reconcile(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	cancelled, err := h.orchestrator.StartPipeline(ctx, "order-2", "brand-A", nil)
	require.NoError(t, err)
	_, err = h.orchestrator.CancelPipeline(ctx, cancelled.ID, "test")
	require.NoError(t, err)
	failing, err := h.orchestrator.StartPipeline(ctx, "order-3", "brand-B", nil)
	require.NoError(t, err)
	_, err = h.orchestrator.HandleStageFailed(ctx, failing.ID, models.StageOrderReceived, "timeout", true)
	require.NoError(t, err)

	requeued, err := h.orchestrator.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)

	q, err := h.queues.GetQueue(models.QueuePipeline)
	require.NoError(t, err)
	counts := q.GetJobCounts()
	// 3 starts plus 2 reconciled jobs; the scheduled retry stays delayed
	assert.Equal(t, 5, counts[models.JobStateWaiting])
	assert.Equal(t, 1, counts[models.JobStateDelayed])
}

func TestOrchestrator_SubscribersMayCallBack(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	subscribe(t, h.bus, interfaces.EventPipelineStarted, func(ctx context.Context, event interfaces.Event) error {
		payload := event.Payload.(*models.StageEvent)
		_, err := h.orchestrator.AdvanceStage(ctx, payload.PipelineID, nil, models.TriggerAutomatic)
		return err
	})

	done := make(chan *models.Pipeline, 1)
	go func() {
		p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
		if err != nil {
			done <- nil
			return
		}
		done <- p
	}()

	select {
	case p := <-done:
		require.NotNil(t, p)
		current, err := h.orchestrator.GetPipeline(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StageRender, current.CurrentStage)
	case <-time.After(2 * time.Second):
		t.Fatal("start deadlocked with a re-entrant subscriber")
	}
}

func TestOrchestrator_MissingPipeline(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.orchestrator.AdvanceStage(context.Background(), "missing", nil, models.TriggerAutomatic)
	assert.True(t, errors.Is(err, models.ErrPipelineNotFound))
}

// conflictingStorage fails pipeline updates as if another writer got there first
type conflictingStorage struct {
	interfaces.PipelineStorage
	failUpdates bool
}

func (s *conflictingStorage) UpdatePipeline(ctx context.Context, p *models.Pipeline) error {
	if s.failUpdates {
		return fmt.Errorf("%w: %s", models.ErrVersionConflict, p.ID)
	}
	return s.PipelineStorage.UpdatePipeline(ctx, p)
}

func TestOrchestrator_RetryConflictLeavesErrorsOpen(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	storage := &conflictingStorage{PipelineStorage: h.storage}
	orchestrator := NewOrchestrator(storage, h.queues, h.bus, h.config, arbor.NewNoOpLogger())

	p, err := orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	_, err = orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "timeout", true)
	require.NoError(t, err)

	storage.failUpdates = true
	_, err = orchestrator.RetryStage(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrVersionConflict)

	errs, err := orchestrator.ListErrors(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.False(t, errs[0].IsResolved())

	transitions, err := orchestrator.ListTransitions(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, transitions)

	storage.failUpdates = false
	_, err = orchestrator.RetryStage(ctx, p.ID)
	require.NoError(t, err)
}

func TestOrchestrator_RetryRestartsStallClock(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)
	_, err = h.orchestrator.HandleStageFailed(ctx, p.ID, models.StageOrderReceived, "timeout", true)
	require.NoError(t, err)

	slas := map[models.Stage]time.Duration{models.StageOrderReceived: 50 * time.Millisecond}
	time.Sleep(100 * time.Millisecond)

	flagged, err := h.orchestrator.FlagStalled(ctx, slas, time.Hour)
	require.NoError(t, err)
	require.Len(t, flagged, 1)

	p, err = h.orchestrator.RetryStage(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, p.Stalled)
	require.NotNil(t, p.RetriedAt)

	flagged, err = h.orchestrator.FlagStalled(ctx, slas, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, flagged)
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineStalled))

	time.Sleep(100 * time.Millisecond)
	flagged, err = h.orchestrator.FlagStalled(ctx, slas, time.Hour)
	require.NoError(t, err)
	assert.Len(t, flagged, 1)
}

func TestOrchestrator_ManualFailRaisesResolvableAlert(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	p, err := h.orchestrator.StartPipeline(ctx, "order-1", "brand-A", nil)
	require.NoError(t, err)

	p, err = h.orchestrator.AdvanceStage(ctx, p.ID, stagePtr(models.StageFailed), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusFailed, p.Status)
	assert.Equal(t, 1, h.recorder.count(interfaces.EventPipelineAlert))

	errs, err := h.orchestrator.ListErrors(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].IsAlert())
	assert.Equal(t, models.StageOrderReceived, errs[0].Stage)

	resolved, err := h.orchestrator.ResolveError(ctx, errs[0].ID)
	require.NoError(t, err)
	assert.False(t, resolved.IsAlert())
}

func subscribe(t *testing.T, bus interfaces.EventService, eventType interfaces.EventType, handler interfaces.EventHandler) string {
	t.Helper()
	id, err := bus.Subscribe(eventType, handler)
	require.NoError(t, err)
	return id
}
