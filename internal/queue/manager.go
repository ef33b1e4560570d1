package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/pce/internal/interfaces"
	"github.com/ternarybob/pce/internal/models"
)

// Manager is the registry of named queues. It is built once at startup and
// handed to every component that enqueues or inspects jobs.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]interfaces.JobQueue
	config Config
	logger arbor.ILogger
}

// NewManager creates a manager holding one MemoryQueue per name
func NewManager(logger arbor.ILogger, config Config, names ...string) *Manager {
	m := &Manager{
		queues: make(map[string]interfaces.JobQueue, len(names)),
		config: config.withDefaults(),
		logger: logger,
	}
	for _, name := range names {
		m.queues[name] = NewMemoryQueue(name, m.config.forQueue(name), logger)
	}

	logger.Info().
		Strs("queues", m.QueueNames()).
		Int("max_attempts", m.config.MaxAttempts).
		Msg("Queue manager initialized")

	return m
}

// Register adds or replaces a queue, e.g. a broker-backed implementation
func (m *Manager) Register(queue interfaces.JobQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue.Name()] = queue
}

func (m *Manager) GetQueue(name string) (interfaces.JobQueue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queue, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrQueueNotFound, name)
	}
	return queue, nil
}

// QueueNames returns the registered queue names, sorted
func (m *Manager) QueueNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Enqueue(ctx context.Context, queueName, jobType string, payload interface{}, opts models.JobOptions) (string, error) {
	queue, err := m.GetQueue(queueName)
	if err != nil {
		return "", err
	}
	return queue.Enqueue(ctx, jobType, payload, opts)
}

func (m *Manager) Process(queueName string, handler interfaces.JobHandler) error {
	queue, err := m.GetQueue(queueName)
	if err != nil {
		return err
	}
	return queue.Process(handler)
}

func (m *Manager) PauseQueue(name string) error {
	queue, err := m.GetQueue(name)
	if err != nil {
		return err
	}
	queue.Pause()
	return nil
}

func (m *Manager) ResumeQueue(name string) error {
	queue, err := m.GetQueue(name)
	if err != nil {
		return err
	}
	queue.Resume()
	return nil
}

func (m *Manager) PauseAll() {
	for _, queue := range m.snapshot() {
		queue.Pause()
	}
}

func (m *Manager) ResumeAll() {
	for _, queue := range m.snapshot() {
		queue.Resume()
	}
}

func (m *Manager) GetQueueStatus(name string) (*models.QueueStatus, error) {
	queue, err := m.GetQueue(name)
	if err != nil {
		return nil, err
	}
	return statusOf(queue), nil
}

// GetAllQueueStatuses returns one status per queue, sorted by name
func (m *Manager) GetAllQueueStatuses() []*models.QueueStatus {
	queues := m.snapshot()
	statuses := make([]*models.QueueStatus, 0, len(queues))
	for _, queue := range queues {
		statuses = append(statuses, statusOf(queue))
	}
	return statuses
}

func statusOf(queue interfaces.JobQueue) *models.QueueStatus {
	counts := queue.GetJobCounts()
	return &models.QueueStatus{
		Name:   queue.Name(),
		Paused: queue.IsPaused(),
		Counts: counts,
	}
}

func (m *Manager) GetFailedJobs(name string, offset, limit int) ([]interfaces.FailedJob, error) {
	queue, err := m.GetQueue(name)
	if err != nil {
		return nil, err
	}
	return queue.GetFailed(offset, limit), nil
}

// RetryFailed re-enqueues up to limit failed jobs, oldest first
func (m *Manager) RetryFailed(ctx context.Context, name string, limit int) (int, error) {
	failed, err := m.GetFailedJobs(name, 0, limit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, job := range failed {
		if err := job.Retry(ctx); err != nil {
			m.logger.Warn().Err(err).Str("queue", name).Str("job_id", job.Job().ID).Msg("Failed to retry job")
			continue
		}
		retried++
	}

	m.logger.Info().Str("queue", name).Int("retried", retried).Msg("Retried failed jobs")
	return retried, nil
}

// CleanStale removes completed and failed jobs older than grace from every queue
func (m *Manager) CleanStale(grace time.Duration, limit int) (int, error) {
	total := 0
	for _, queue := range m.snapshot() {
		for _, state := range []models.JobState{models.JobStateCompleted, models.JobStateFailed} {
			removed, err := queue.Clean(grace, limit, state)
			if err != nil {
				return total, fmt.Errorf("failed to clean %s jobs on %s: %w", state, queue.Name(), err)
			}
			total += len(removed)
		}
	}

	if total > 0 {
		m.logger.Info().Int("removed", total).Dur("grace", grace).Msg("Stale jobs cleaned")
	}
	return total, nil
}

// Close closes every queue concurrently, waiting for in-flight jobs, and
// returns the first error
func (m *Manager) Close() error {
	var g errgroup.Group
	for _, queue := range m.snapshot() {
		g.Go(queue.Close)
	}
	err := g.Wait()
	m.logger.Info().Msg("Queue manager closed")
	return err
}

func (m *Manager) snapshot() []interfaces.JobQueue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queues := make([]interfaces.JobQueue, 0, len(m.queues))
	for _, queue := range m.queues {
		queues = append(queues, queue)
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].Name() < queues[j].Name() })
	return queues
}
