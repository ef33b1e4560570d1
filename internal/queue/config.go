package queue

import "time"

// Config holds configuration for a job queue
type Config struct {
	// Concurrency is the number of dispatchers started by Process
	Concurrency int

	// QueueConcurrency overrides Concurrency per queue name
	QueueConcurrency map[string]int

	// MaxAttempts is the default attempt ceiling when JobOptions leaves it unset
	MaxAttempts int

	// Backoff computes the delay before a failed job is retried
	Backoff Backoff
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		Concurrency: 4,
		MaxAttempts: 3,
		Backoff:     Exponential{Initial: time.Second, Max: time.Minute},
	}
}

func (c Config) withDefaults() Config {
	defaults := NewDefaultConfig()
	if c.Concurrency < 1 {
		c.Concurrency = defaults.Concurrency
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.Backoff == nil {
		c.Backoff = defaults.Backoff
	}
	return c
}

// forQueue returns the config with the per-queue concurrency applied
func (c Config) forQueue(name string) Config {
	if n, ok := c.QueueConcurrency[name]; ok && n > 0 {
		c.Concurrency = n
	}
	return c
}
