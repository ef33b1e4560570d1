package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/pce/internal/models"
)

// JobHandler processes one active job. A returned error or a panic counts as
// a failed attempt.
type JobHandler func(ctx context.Context, job *models.Job) error

// FailedJob is a permanently failed job that can be sent back to waiting.
type FailedJob interface {
	Job() *models.Job
	// Retry resets attempts to 0 and re-enqueues the job as waiting
	Retry(ctx context.Context) error
}

// JobQueue is a named queue with broker-like semantics. MemoryQueue is the
// in-process implementation; a broker-backed client can satisfy the same contract.
type JobQueue interface {
	Name() string
	Enqueue(ctx context.Context, jobType string, payload interface{}, opts models.JobOptions) (string, error)
	Process(handler JobHandler) error
	Pause()
	Resume()
	IsPaused() bool
	GetJob(jobID string) (*models.Job, error)
	GetJobCounts(states ...models.JobState) map[models.JobState]int
	GetFailed(offset, limit int) []FailedJob
	Clean(grace time.Duration, limit int, state models.JobState) ([]*models.Job, error)
	Close() error
}

// QueueManager owns the set of named queues
type QueueManager interface {
	GetQueue(name string) (JobQueue, error)
	QueueNames() []string
	Enqueue(ctx context.Context, queueName, jobType string, payload interface{}, opts models.JobOptions) (string, error)
	Process(queueName string, handler JobHandler) error

	PauseQueue(name string) error
	ResumeQueue(name string) error
	PauseAll()
	ResumeAll()

	GetQueueStatus(name string) (*models.QueueStatus, error)
	GetAllQueueStatuses() []*models.QueueStatus

	GetFailedJobs(name string, offset, limit int) ([]FailedJob, error)
	// RetryFailed re-enqueues up to limit failed jobs of the queue and returns the count
	RetryFailed(ctx context.Context, name string, limit int) (int, error)
	// CleanStale removes completed and failed jobs older than grace across all queues
	CleanStale(grace time.Duration, limit int) (int, error)

	Close() error
}
