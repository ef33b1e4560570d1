package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/pce/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment   string              `toml:"environment"` // "development" or "production"
	Server        ServerConfig        `toml:"server"`
	Storage       StorageConfig       `toml:"storage"`
	Logging       LoggingConfig       `toml:"logging"`
	Queue         QueueConfig         `toml:"queue"`
	Pipeline      PipelineConfig      `toml:"pipeline"`
	Quota         QuotaConfig         `toml:"quota"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Monitor       MonitorConfig       `toml:"monitor"`
	Collaborators CollaboratorsConfig `toml:"collaborators"`
	WebSocket     WebSocketConfig     `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for console logs
}

// QueueConfig controls the in-process job queues
type QueueConfig struct {
	Concurrency      int            `toml:"concurrency"`       // Dispatchers per queue
	QueueConcurrency map[string]int `toml:"queue_concurrency"` // Per-queue override, keyed by queue name
	MaxAttempts      int            `toml:"max_attempts"`      // Default attempt ceiling per job
	BackoffBase      string         `toml:"backoff_base"`      // e.g. "1s"
	BackoffMax       string         `toml:"backoff_max"`       // e.g. "1m"
}

// PipelineConfig controls stage retry and stall detection
type PipelineConfig struct {
	StageMaxRetries    int               `toml:"stage_max_retries"`    // Failed attempts per stage visit before the pipeline fails
	RetryBackoffBase   string            `toml:"retry_backoff_base"`   // Delay of the first retry-stage job
	RetryBackoffMax    string            `toml:"retry_backoff_max"`    // Cap on retry-stage delay
	DefaultSLA         string            `toml:"default_sla"`          // Stall window for stages without an entry in stage_sla
	StageSLA           map[string]string `toml:"stage_sla"`            // Keyed by stage name, e.g. RENDER = "30m"
	ReconcileOnStartup bool              `toml:"reconcile_on_startup"` // Re-enqueue current-stage jobs at boot
}

// QuotaConfig resolves tenants to subscription plans
type QuotaConfig struct {
	DefaultPlan string            `toml:"default_plan"`
	Tenants     map[string]string `toml:"tenants"`    // brand id -> plan name
	PlansFile   string            `toml:"plans_file"` // Optional YAML plan catalog override
}

// SchedulerConfig controls the periodic sweeps
type SchedulerConfig struct {
	Enabled              bool   `toml:"enabled"`
	CleanupSchedule      string `toml:"cleanup_schedule"`
	StalledSweepSchedule string `toml:"stalled_sweep_schedule"`
	CleanupGrace         string `toml:"cleanup_grace"` // Age after which completed/failed jobs are removed
	CleanupLimit         int    `toml:"cleanup_limit"` // Max jobs removed per queue and state per run
}

// MonitorConfig holds queue health thresholds
type MonitorConfig struct {
	DegradedFailed   int `toml:"degraded_failed"`
	DegradedWaiting  int `toml:"degraded_waiting"`
	UnhealthyFailed  int `toml:"unhealthy_failed"`
	UnhealthyWaiting int `toml:"unhealthy_waiting"`
}

// CollaboratorsConfig selects how stage jobs reach the render, production,
// fulfillment and sync services.
type CollaboratorsConfig struct {
	Mode            string            `toml:"mode"`             // "loopback" or "http"
	Endpoints       map[string]string `toml:"endpoints"`        // job type -> URL, "default" as fallback
	Timeout         string            `toml:"timeout"`          // HTTP request timeout
	Token           string            `toml:"token"`            // Bearer token sent to collaborators
	RateLimit       string            `toml:"rate_limit"`       // Minimum interval between collaborator calls
	NotificationURL string            `toml:"notification_url"` // Optional operator webhook
}

// WebSocketConfig contains configuration for the operator event stream
type WebSocketConfig struct {
	Enabled          bool     `toml:"enabled"`
	ThrottleInterval string   `toml:"throttle_interval"` // Max one message per interval per event type and client
	AllowedEvents    []string `toml:"allowed_events"`    // Empty allows all events
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Queue: QueueConfig{
			Concurrency:      4,
			QueueConcurrency: map[string]int{},
			MaxAttempts:      3,
			BackoffBase:      "1s",
			BackoffMax:       "1m",
		},
		Pipeline: PipelineConfig{
			StageMaxRetries:  3,
			RetryBackoffBase: "1s",
			RetryBackoffMax:  "1m",
			DefaultSLA:       "2h",
			StageSLA: map[string]string{
				string(models.StageOrderReceived): "15m",
				string(models.StageRender):        "1h",
				string(models.StageProduction):    "72h",
				string(models.StageQualityCheck):  "24h",
				string(models.StageReadyToShip):   "24h",
				string(models.StageFulfillment):   "168h",
			},
			ReconcileOnStartup: true,
		},
		Quota: QuotaConfig{
			DefaultPlan: "starter",
			Tenants:     map[string]string{},
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			CleanupSchedule:      "*/5 * * * *",
			StalledSweepSchedule: "*/5 * * * *",
			CleanupGrace:         "1h",
			CleanupLimit:         1000,
		},
		Monitor: MonitorConfig{
			DegradedFailed:   10,
			DegradedWaiting:  100,
			UnhealthyFailed:  100,
			UnhealthyWaiting: 1000,
		},
		Collaborators: CollaboratorsConfig{
			Mode:      "loopback",
			Endpoints: map[string]string{},
			Timeout:   "30s",
			RateLimit: "100ms",
		},
		WebSocket: WebSocketConfig{
			Enabled:          true,
			ThrottleInterval: "250ms",
			AllowedEvents:    []string{},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies PCE_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PCE_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("PCE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PCE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("PCE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("PCE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PCE_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Queue configuration
	if concurrency := os.Getenv("PCE_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if maxAttempts := os.Getenv("PCE_QUEUE_MAX_ATTEMPTS"); maxAttempts != "" {
		if m, err := strconv.Atoi(maxAttempts); err == nil {
			config.Queue.MaxAttempts = m
		}
	}

	// Quota configuration
	if plan := os.Getenv("PCE_QUOTA_DEFAULT_PLAN"); plan != "" {
		config.Quota.DefaultPlan = plan
	}
	if plansFile := os.Getenv("PCE_QUOTA_PLANS_FILE"); plansFile != "" {
		config.Quota.PlansFile = plansFile
	}

	// Collaborators
	if mode := os.Getenv("PCE_COLLABORATORS_MODE"); mode != "" {
		config.Collaborators.Mode = mode
	}
	if token := os.Getenv("PCE_COLLABORATORS_TOKEN"); token != "" {
		config.Collaborators.Token = token
	}
	if url := os.Getenv("PCE_NOTIFICATION_URL"); url != "" {
		config.Collaborators.NotificationURL = url
	}

	if enabled := os.Getenv("PCE_SCHEDULER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = b
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail late at startup
func (c *Config) Validate() error {
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Pipeline.StageMaxRetries < 1 {
		return fmt.Errorf("pipeline.stage_max_retries must be at least 1, got %d", c.Pipeline.StageMaxRetries)
	}
	for stage, window := range c.Pipeline.StageSLA {
		if _, ok := models.ParseStage(stage); !ok {
			return fmt.Errorf("pipeline.stage_sla: unknown stage %q", stage)
		}
		if _, err := time.ParseDuration(window); err != nil {
			return fmt.Errorf("pipeline.stage_sla.%s: %w", stage, err)
		}
	}
	if c.Scheduler.Enabled {
		if err := ValidateSchedule(c.Scheduler.CleanupSchedule); err != nil {
			return fmt.Errorf("scheduler.cleanup_schedule: %w", err)
		}
		if err := ValidateSchedule(c.Scheduler.StalledSweepSchedule); err != nil {
			return fmt.Errorf("scheduler.stalled_sweep_schedule: %w", err)
		}
	}
	switch c.Collaborators.Mode {
	case "loopback", "http":
	default:
		return fmt.Errorf("collaborators.mode must be loopback or http, got %q", c.Collaborators.Mode)
	}
	return nil
}

// StageSLAs returns the parsed per-stage stall windows and the default window
func (c *Config) StageSLAs() (map[models.Stage]time.Duration, time.Duration) {
	slas := make(map[models.Stage]time.Duration, len(c.Pipeline.StageSLA))
	for name, window := range c.Pipeline.StageSLA {
		stage, ok := models.ParseStage(name)
		if !ok {
			continue
		}
		slas[stage] = ParseDurationOr(window, 0)
	}
	return slas, ParseDurationOr(c.Pipeline.DefaultSLA, 2*time.Hour)
}

// ConcurrencyFor returns the dispatcher count for a queue
func (c *Config) ConcurrencyFor(queueName string) int {
	if n, ok := c.Queue.QueueConcurrency[queueName]; ok && n > 0 {
		return n
	}
	return c.Queue.Concurrency
}

// ParseDurationOr parses a duration string, returning fallback when empty or invalid
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
