package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pce/internal/common"
	"github.com/ternarybob/pce/internal/interfaces"
)

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     func() error
	enabled     bool
	autoStart   bool
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
}

// Service implements SchedulerService interface
type Service struct {
	cron     *cron.Cron
	logger   arbor.ILogger
	mu       sync.Mutex // Protects running
	jobMu    sync.Mutex // Protects jobs map
	globalMu sync.Mutex // Prevents concurrent job execution
	jobs     map[string]*jobEntry
	running  bool
}

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}
}

// Start begins the cron loop and runs auto-start jobs in the background
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.GetAllJobStatuses())).Msg("Scheduler started")

	go s.executeAutoStartJobs()
	return nil
}

// Stop halts the scheduler and waits for running jobs
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Timed out waiting for scheduled jobs to finish")
	}
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// executeAutoStartJobs executes all jobs with autoStart=true immediately after scheduler starts
func (s *Service) executeAutoStartJobs() {
	s.jobMu.Lock()
	autoStartJobs := make([]string, 0)
	for name, entry := range s.jobs {
		if entry.enabled && entry.autoStart {
			autoStartJobs = append(autoStartJobs, name)
		}
	}
	s.jobMu.Unlock()

	for _, jobName := range autoStartJobs {
		s.logger.Info().
			Str("job_name", jobName).
			Msg("Executing auto-start job")
		go s.executeJob(jobName)
	}
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RegisterJob registers a new job with the scheduler
func (s *Service) RegisterJob(name string, schedule string, description string, autoStart bool, handler func() error) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if handler == nil {
		return fmt.Errorf("job %s has no handler", name)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
		enabled:     true,
		autoStart:   autoStart,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// EnableJob enables a disabled job
func (s *Service) EnableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if entry.enabled {
		return nil
	}

	cronID, err := s.cron.AddFunc(entry.schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	entry.enabled = true

	s.logger.Info().Str("job_name", name).Msg("Job enabled")
	return nil
}

// DisableJob disables an enabled job
func (s *Service) DisableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if !entry.enabled {
		return nil
	}

	s.cron.Remove(entry.cronID)
	entry.enabled = false

	s.logger.Info().Str("job_name", name).Msg("Job disabled")
	return nil
}

// GetJobStatus returns the status of a specific job
func (s *Service) GetJobStatus(name string) (*interfaces.JobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}

	var nextRun *time.Time
	if entry.enabled {
		if cronEntry := s.cron.Entry(entry.cronID); cronEntry.Valid() && !cronEntry.Next.IsZero() {
			next := cronEntry.Next
			nextRun = &next
		}
	}

	return &interfaces.JobStatus{
		Name:        entry.name,
		Enabled:     entry.enabled,
		AutoStart:   entry.autoStart,
		Schedule:    entry.schedule,
		Description: entry.description,
		LastRun:     entry.lastRun,
		NextRun:     nextRun,
		IsRunning:   entry.isRunning,
		LastError:   entry.lastError,
	}, nil
}

// GetAllJobStatuses returns all job statuses
func (s *Service) GetAllJobStatuses() map[string]*interfaces.JobStatus {
	s.jobMu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.jobMu.Unlock()

	statuses := make(map[string]*interfaces.JobStatus, len(names))
	for _, name := range names {
		if status, err := s.GetJobStatus(name); err == nil {
			statuses[name] = status
		}
	}
	return statuses
}

// executeJob wraps job execution with mutex, panic recovery, and status tracking
func (s *Service) executeJob(name string) {
	defer func() {
		if r := recover(); r != nil {
			common.LogPanic(s.logger, "scheduler job "+name, r)

			s.jobMu.Lock()
			if entry, exists := s.jobs[name]; exists {
				entry.isRunning = false
				entry.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.jobMu.Unlock()
		}
	}()

	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job not found")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	started := time.Now()
	s.logger.Debug().Str("job_name", name).Msg("Job execution started")

	err := handler()

	finished := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &finished
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", finished.Sub(started)).
			Msg("Job execution failed")
		return
	}
	s.logger.Debug().
		Str("job_name", name).
		Dur("duration", finished.Sub(started)).
		Msg("Job execution completed")
}

// TriggerJob manually triggers a specific job to run immediately
func (s *Service) TriggerJob(name string) error {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		return fmt.Errorf("job %s not found", name)
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		return fmt.Errorf("job %s is already running", name)
	}
	s.jobMu.Unlock()

	s.logger.Info().
		Str("job_name", name).
		Msg("Manually triggering job execution")

	go s.executeJob(name)
	return nil
}
