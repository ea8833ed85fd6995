package config

import (
	"fmt"
	"time"

	"doc-queue/internal/models"
)

// PipelineStages is the most timed stages one job can run through: load, status,
// download, recognize, extract, save and then complete or record failure
const PipelineStages = 7

// QueueConfig holds producer defaults and worker pool settings
type QueueConfig struct {
	Concurrency   int      `toml:"concurrency"`
	MaxAttempts   int      `toml:"max_attempts"`
	BackoffType   string   `toml:"backoff_type"`
	BackoffDelay  Duration `toml:"backoff_delay"`
	InitialDelay  Duration `toml:"initial_delay"`
	Priority      int      `toml:"priority"`
	LeaseDuration Duration `toml:"lease_duration"`
	PollInterval  Duration `toml:"poll_interval"`
	StageTimeout  Duration `toml:"stage_timeout"`
	KeepCompleted int      `toml:"keep_completed"`
	PruneInterval Duration `toml:"prune_interval"`
}

// EnqueueOptions returns the producer defaults as queue options
func (c *QueueConfig) EnqueueOptions() models.EnqueueOptions {
	return models.EnqueueOptions{
		Priority:    c.Priority,
		Delay:       c.InitialDelay.Duration,
		MaxAttempts: c.MaxAttempts,
		Backoff: models.Backoff{
			Type:  models.BackoffType(c.BackoffType),
			Delay: c.BackoffDelay.Duration,
		},
	}
}

func (c *QueueConfig) finalize() error {
	c.loadDefaults()
	return c.validate()
}

func (c *QueueConfig) loadDefaults() {
	defaults := models.DefaultEnqueueOptions()

	if c.Concurrency == 0 {
		c.Concurrency = 3
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BackoffType == "" {
		c.BackoffType = string(defaults.Backoff.Type)
	}
	if c.BackoffDelay.Duration == 0 {
		c.BackoffDelay.Duration = defaults.Backoff.Delay
	}
	if c.InitialDelay.Duration == 0 {
		c.InitialDelay.Duration = defaults.Delay
	}
	if c.Priority == 0 {
		c.Priority = defaults.Priority
	}
	if c.LeaseDuration.Duration == 0 {
		c.LeaseDuration.Duration = 5 * time.Minute
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval.Duration = 500 * time.Millisecond
	}
	if c.StageTimeout.Duration == 0 {
		c.StageTimeout.Duration = 30 * time.Second
	}
	if c.KeepCompleted == 0 {
		c.KeepCompleted = 100
	}
	if c.PruneInterval.Duration == 0 {
		c.PruneInterval.Duration = time.Minute
	}
}

func (c *QueueConfig) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	switch models.BackoffType(c.BackoffType) {
	case models.BackoffExponential, models.BackoffFixed:
	default:
		return fmt.Errorf("invalid backoff_type %q (must be exponential or fixed)", c.BackoffType)
	}
	if c.StageTimeout.Duration <= 0 {
		return fmt.Errorf("stage_timeout must be positive")
	}
	if worst := c.StageTimeout.Duration * PipelineStages; c.LeaseDuration.Duration <= worst {
		return fmt.Errorf("lease_duration (%s) must exceed %d stages of stage_timeout (%s)", c.LeaseDuration.Duration, PipelineStages, worst)
	}
	return nil
}
