package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// MemoryQueue is an in-process job queue. Job state lives only in memory and
// is lost on restart. Every state change happens under mu, so counts taken
// under the same lock are consistent snapshots.
type MemoryQueue struct {
	name   string
	config Config
	logger arbor.ILogger

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    map[string]*models.Job
	order   []string // every held job id, enqueue order
	waiting []string // FIFO of waiting job ids
	timers  map[string]*time.Timer
	paused  bool
	closed  bool
	handler interfaces.JobHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryQueue creates a named in-memory queue
func NewMemoryQueue(name string, config Config, logger arbor.ILogger) *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		name:   name,
		config: config.withDefaults(),
		logger: logger,
		jobs:   make(map[string]*models.Job),
		timers: make(map[string]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Name() string {
	return q.name
}

// Enqueue adds a job and returns its id. The payload must be JSON-marshalable.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobType string, payload interface{}, opts models.JobOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("invalid payload for %s job: %w", jobType, err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = q.config.MaxAttempts
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.New().String(),
		QueueName:   q.name,
		JobType:     jobType,
		Payload:     data,
		MaxAttempts: maxAttempts,
		State:       models.JobStateWaiting,
		CreatedAt:   now,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", fmt.Errorf("%w: %s", models.ErrQueueClosed, q.name)
	}

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)

	if opts.Delay > 0 {
		q.scheduleLocked(job, opts.Delay)
	} else {
		q.waiting = append(q.waiting, job.ID)
		q.cond.Signal()
	}

	q.logger.Debug().
		Str("queue", q.name).
		Str("job_id", job.ID).
		Str("job_type", jobType).
		Str("state", string(job.State)).
		Msg("Job enqueued")

	return job.ID, nil
}

// scheduleLocked parks the job in delayed until the delay elapses
func (q *MemoryQueue) scheduleLocked(job *models.Job, delay time.Duration) {
	at := time.Now().UTC().Add(delay)
	job.State = models.JobStateDelayed
	job.ScheduledAt = &at

	id := job.ID
	q.timers[id] = time.AfterFunc(delay, func() { q.promote(id) })
}

// promote moves a delayed job to waiting
func (q *MemoryQueue) promote(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.timers, id)
	job, ok := q.jobs[id]
	if !ok || job.State != models.JobStateDelayed || q.closed {
		return
	}
	job.State = models.JobStateWaiting
	q.waiting = append(q.waiting, id)
	q.cond.Signal()
}

// Process registers the handler and starts the dispatchers. It may be called once.
func (q *MemoryQueue) Process(handler interfaces.JobHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrQueueClosed, q.name)
	}
	if q.handler != nil {
		q.mu.Unlock()
		return fmt.Errorf("queue %s already has a handler", q.name)
	}
	q.handler = handler
	q.mu.Unlock()

	for i := 0; i < q.config.Concurrency; i++ {
		q.wg.Add(1)
		workerID := i
		common.SafeGo(q.logger, fmt.Sprintf("queue-%s-dispatcher-%d", q.name, workerID), func() {
			defer q.wg.Done()
			q.dispatch(workerID)
		})
	}

	q.logger.Info().
		Str("queue", q.name).
		Int("concurrency", q.config.Concurrency).
		Msg("Queue processing started")

	return nil
}

func (q *MemoryQueue) dispatch(workerID int) {
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.run(workerID, job)
	}
}

// next blocks until a waiting job can be activated or the queue closes.
// It returns a copy of the activated job.
func (q *MemoryQueue) next() (*models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return nil, false
		}
		if !q.paused && len(q.waiting) > 0 {
			id := q.waiting[0]
			q.waiting = q.waiting[1:]

			job, ok := q.jobs[id]
			if !ok || job.State != models.JobStateWaiting {
				continue
			}
			job.State = models.JobStateActive
			job.Attempts++
			snapshot := *job
			return &snapshot, true
		}
		q.cond.Wait()
	}
}

func (q *MemoryQueue) run(workerID int, job *models.Job) {
	startTime := time.Now()
	err := q.invoke(job)
	duration := time.Since(startTime)

	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.jobs[job.ID]
	if !ok || current.State != models.JobStateActive {
		return
	}

	now := time.Now().UTC()
	if err == nil {
		current.State = models.JobStateCompleted
		current.CompletedAt = &now
		q.logger.Debug().
			Str("queue", q.name).
			Str("job_id", job.ID).
			Str("job_type", job.JobType).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job completed")
		return
	}

	current.LastError = err.Error()
	if current.Attempts < current.MaxAttempts && !q.closed {
		delay := q.config.Backoff.Delay(current.Attempts)
		q.scheduleLocked(current, delay)
		q.logger.Warn().
			Err(err).
			Str("queue", q.name).
			Str("job_id", job.ID).
			Str("job_type", job.JobType).
			Int("attempt", current.Attempts).
			Int("max_attempts", current.MaxAttempts).
			Dur("retry_in", delay).
			Msg("Job failed, retry scheduled")
		return
	}

	current.State = models.JobStateFailed
	current.FailedAt = &now
	q.logger.Error().
		Err(err).
		Str("queue", q.name).
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Int("attempts", current.Attempts).
		Msg("Job failed permanently")
}

// invoke runs the handler, converting a panic into an error
func (q *MemoryQueue) invoke(job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			common.LogPanic(q.logger, "queue-"+q.name+"-handler", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.handler(q.ctx, job)
}

func (q *MemoryQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.logger.Info().Str("queue", q.name).Msg("Queue paused")
}

func (q *MemoryQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.cond.Broadcast()
	q.mu.Unlock()
	q.logger.Info().Str("queue", q.name).Msg("Queue resumed")
}

func (q *MemoryQueue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// GetJob returns a copy of the job
func (q *MemoryQueue) GetJob(jobID string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	snapshot := *job
	return &snapshot, nil
}

// GetJobCounts returns counts for the requested states, or for every state
// when none are given. The paused count is the number of waiting jobs held
// back by a paused queue; those jobs are also counted as waiting.
func (q *MemoryQueue) GetJobCounts(states ...models.JobState) map[models.JobState]int {
	if len(states) == 0 {
		states = append(models.AllJobStates(), models.JobStatePaused)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tally := make(map[models.JobState]int, len(models.AllJobStates()))
	for _, job := range q.jobs {
		tally[job.State]++
	}
	if q.paused {
		tally[models.JobStatePaused] = tally[models.JobStateWaiting]
	}

	counts := make(map[models.JobState]int, len(states))
	for _, state := range states {
		counts[state] = tally[state]
	}
	return counts
}

// GetFailed returns failed jobs oldest first
func (q *MemoryQueue) GetFailed(offset, limit int) []interfaces.FailedJob {
	q.mu.Lock()
	failed := make([]models.Job, 0)
	for _, id := range q.order {
		if job := q.jobs[id]; job.State == models.JobStateFailed {
			failed = append(failed, *job)
		}
	}
	q.mu.Unlock()

	sort.SliceStable(failed, func(i, j int) bool {
		return failed[i].FailedAt.Before(*failed[j].FailedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(failed) {
		return []interfaces.FailedJob{}
	}
	failed = failed[offset:]
	if limit > 0 && limit < len(failed) {
		failed = failed[:limit]
	}

	result := make([]interfaces.FailedJob, len(failed))
	for i := range failed {
		result[i] = &FailedJob{job: &failed[i], queue: q}
	}
	return result
}

// retry sends a failed job back to waiting with its attempts reset
func (q *MemoryQueue) retry(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("%w: %s", models.ErrQueueClosed, q.name)
	}
	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrJobNotFound, jobID)
	}
	if job.State != models.JobStateFailed {
		return fmt.Errorf("%w: job %s is %s", models.ErrInvalidJobState, jobID, job.State)
	}

	job.Attempts = 0
	job.State = models.JobStateWaiting
	job.FailedAt = nil
	job.ScheduledAt = nil
	q.waiting = append(q.waiting, jobID)
	q.cond.Signal()

	q.logger.Info().Str("queue", q.name).Str("job_id", jobID).Msg("Failed job re-enqueued")
	return nil
}

// Clean deletes up to limit completed or failed jobs that settled more than
// grace ago, oldest first. A limit of 0 removes every match.
func (q *MemoryQueue) Clean(grace time.Duration, limit int, state models.JobState) ([]*models.Job, error) {
	if state != models.JobStateCompleted && state != models.JobStateFailed {
		return nil, fmt.Errorf("%w: clean only accepts completed or failed, got %s", models.ErrInvalidJobState, state)
	}

	cutoff := time.Now().UTC().Add(-grace)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := make([]*models.Job, 0)
	kept := q.order[:0]
	for _, id := range q.order {
		job := q.jobs[id]
		finished := job.FinishedAt()
		if job.State == state && finished != nil && !finished.After(cutoff) && (limit <= 0 || len(removed) < limit) {
			snapshot := *job
			removed = append(removed, &snapshot)
			delete(q.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept

	if len(removed) > 0 {
		q.logger.Debug().
			Str("queue", q.name).
			Str("state", string(state)).
			Int("removed", len(removed)).
			Msg("Queue cleaned")
	}
	return removed, nil
}

// Close stops the dispatchers and pending timers. Active handlers see their
// context cancelled and are waited for.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	q.logger.Debug().Str("queue", q.name).Msg("Queue closed")
	return nil
}

// FailedJob is a handle on a permanently failed job
type FailedJob struct {
	job   *models.Job
	queue *MemoryQueue
}

// Job returns the snapshot taken when the failed job was listed
func (f *FailedJob) Job() *models.Job {
	return f.job
}

// Retry resets attempts to 0 and re-enqueues the job as waiting
func (f *FailedJob) Retry(ctx context.Context) error {
	if f.queue == nil {
		return errors.New("failed job is detached from its queue")
	}
	return f.queue.retry(f.job.ID)
}
