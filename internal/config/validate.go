package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateProducer(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.ArtifactDir == "" {
		return errors.New("paths.artifact_dir must be set")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendSQLite:
		return nil
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr must be set when store.backend is redis")
		}
		if c.Store.RedisDB < 0 {
			return errors.New("store.redis_db must be >= 0")
		}
		return nil
	default:
		return fmt.Errorf("store.backend: unsupported value %q (expected sqlite or redis)", c.Store.Backend)
	}
}

func (c *Config) validateProducer() error {
	if c.Producer.URLTemplate == "" {
		return errors.New("producer.url_template must be set")
	}
	if !strings.Contains(c.Producer.URLTemplate, "{id}") {
		return errors.New("producer.url_template must contain the {id} placeholder")
	}
	parsed, err := url.Parse(strings.ReplaceAll(c.Producer.URLTemplate, "{id}", "x"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("producer.url_template %q is not an absolute URL", c.Producer.URLTemplate)
	}
	if c.Producer.RequestsPerSecond < 0 {
		return errors.New("producer.requests_per_second must be >= 0 (0 disables throttling)")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.TimeBudgetSeconds > c.Queue.TickIntervalSeconds {
		return fmt.Errorf("queue.time_budget_seconds (%d) must not exceed queue.tick_interval_seconds (%d)",
			c.Queue.TimeBudgetSeconds, c.Queue.TickIntervalSeconds)
	}
	if c.Queue.StaleAfterSeconds < c.Queue.TimeBudgetSeconds {
		return errors.New("queue.stale_after_seconds must be at least queue.time_budget_seconds")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxDelayMS < c.Retry.InitialDelayMS {
		return errors.New("retry.max_delay_ms must be >= retry.initial_delay_ms")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	return nil
}

func (c *Config) validateBatch() error {
	switch c.Batch.Mode {
	case BatchModeDirect, BatchModeQueue:
		return nil
	default:
		return fmt.Errorf("batch.mode: unsupported value %q (expected direct or queue)", c.Batch.Mode)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
