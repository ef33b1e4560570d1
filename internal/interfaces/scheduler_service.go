package interfaces

import "time"

// JobStatus represents the current status of a scheduled job
type JobStatus struct {
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	AutoStart   bool       `json:"auto_start"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	IsRunning   bool       `json:"is_running"`
	LastError   string     `json:"last_error,omitempty"`
}

// SchedulerService manages cron-based scheduling
type SchedulerService interface {
	// RegisterJob registers a new job with the scheduler
	RegisterJob(name, schedule, description string, autoStart bool, handler func() error) error

	// Start the cron loop
	Start() error

	// Stop the cron loop and wait for running jobs
	Stop() error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// TriggerJob runs a registered job immediately
	TriggerJob(name string) error

	// EnableJob enables a disabled job
	EnableJob(name string) error

	// DisableJob disables an enabled job
	DisableJob(name string) error

	// GetJobStatus returns the status of a specific job
	GetJobStatus(name string) (*JobStatus, error)

	// GetAllJobStatuses returns all job statuses
	GetAllJobStatuses() map[string]*JobStatus
}
