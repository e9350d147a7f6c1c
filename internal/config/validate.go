package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must be set")
	}
	if strings.TrimSpace(c.Bind) == "" {
		return errors.New("bind must be set")
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be \"console\" or \"json\", got %q", c.LogFormat)
	}
	if err := ensurePositiveMap(map[string]int{
		"handler_timeout":          c.HandlerTimeout,
		"shutdown_grace":           c.ShutdownGrace,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"queue.batch_size":         c.Queue.BatchSize,
		"queue.max_attempts":       c.Queue.MaxAttempts,
		"queue.base_retry_delay":   c.Queue.BaseRetryDelay,
		"queue.max_retry_delay":    c.Queue.MaxRetryDelay,
	}); err != nil {
		return err
	}
	if c.Queue.MaxRetryDelay < c.Queue.BaseRetryDelay {
		return errors.New("queue.max_retry_delay must be at least queue.base_retry_delay")
	}
	return c.validatePipelines()
}

func (c *Config) validatePipelines() error {
	seen := make(map[string]struct{}, len(c.Pipelines))
	for _, p := range c.Pipelines {
		if p.JobType == "" {
			return errors.New("pipelines entry is missing job_type")
		}
		if _, dup := seen[p.JobType]; dup {
			return fmt.Errorf("pipelines declares job_type %q twice", p.JobType)
		}
		seen[p.JobType] = struct{}{}
		if len(p.Stages) == 0 {
			return fmt.Errorf("pipeline %q must declare at least one stage", p.JobType)
		}
		stageSeen := make(map[string]struct{}, len(p.Stages))
		for _, stage := range p.Stages {
			if _, dup := stageSeen[stage]; dup {
				return fmt.Errorf("pipeline %q declares stage %q twice", p.JobType, stage)
			}
			stageSeen[stage] = struct{}{}
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive (seconds or count)", name)
		}
	}
	return nil
}
