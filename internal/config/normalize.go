package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeProducer()
	c.normalizeQueue()
	c.normalizeLocks()
	c.normalizeRetry()
	c.normalizeBatch()
	c.normalizeProgress()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = defaultArtifactDir
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("CACHEGEN_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	c.Store.RedisAddr = strings.TrimSpace(c.Store.RedisAddr)
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = defaultRedisAddr
	}
	if c.Store.RedisPassword == "" {
		if value, ok := os.LookupEnv("CACHEGEN_REDIS_PASSWORD"); ok {
			c.Store.RedisPassword = value
		}
	}
	c.Store.KeyPrefix = strings.TrimSpace(c.Store.KeyPrefix)
}

func (c *Config) normalizeProducer() {
	c.Producer.URLTemplate = strings.TrimSpace(c.Producer.URLTemplate)
	if c.Producer.TimeoutSeconds <= 0 {
		c.Producer.TimeoutSeconds = defaultProducerTimeout
	}
	c.Producer.UserAgent = strings.TrimSpace(c.Producer.UserAgent)
	if c.Producer.UserAgent == "" {
		c.Producer.UserAgent = defaultProducerUserAgent
	}
	if c.Producer.Burst <= 0 {
		c.Producer.Burst = defaultProducerBurst
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.TickIntervalSeconds <= 0 {
		c.Queue.TickIntervalSeconds = defaultTickIntervalSeconds
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = defaultQueueBatchSize
	}
	if c.Queue.TimeBudgetSeconds <= 0 {
		c.Queue.TimeBudgetSeconds = defaultTimeBudgetSeconds
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = defaultQueueMaxAttempts
	}
	if c.Queue.StaleAfterSeconds <= 0 {
		c.Queue.StaleAfterSeconds = defaultStaleAfterSeconds
	}
	if c.Queue.RetentionDays <= 0 {
		c.Queue.RetentionDays = defaultQueueRetentionDays
	}
}

func (c *Config) normalizeLocks() {
	if c.Locks.TimeoutSeconds <= 0 {
		c.Locks.TimeoutSeconds = defaultLockTimeoutSeconds
	}
	if c.Locks.CleanupIntervalMinutes <= 0 {
		c.Locks.CleanupIntervalMinutes = defaultLockCleanupMinutes
	}
}

func (c *Config) normalizeRetry() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 1
	}
	if c.Retry.InitialDelayMS < 0 {
		c.Retry.InitialDelayMS = 0
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = defaultRetryMaxDelayMS
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = defaultRetryMultiplier
	}
}

func (c *Config) normalizeBatch() {
	if c.Batch.ChunkSize <= 0 {
		c.Batch.ChunkSize = defaultBatchChunkSize
	}
	if c.Batch.RetentionHours <= 0 {
		c.Batch.RetentionHours = defaultBatchRetentionHours
	}
	c.Batch.Mode = strings.ToLower(strings.TrimSpace(c.Batch.Mode))
	if c.Batch.Mode == "" {
		c.Batch.Mode = defaultBatchMode
	}
}

func (c *Config) normalizeProgress() {
	if c.Progress.RetentionHours <= 0 {
		c.Progress.RetentionHours = defaultProgressRetentionHrs
	}
	if c.Progress.MaxMessages <= 0 {
		c.Progress.MaxMessages = defaultProgressMaxMessages
	}
	if c.Progress.MaxErrors <= 0 {
		c.Progress.MaxErrors = defaultProgressMaxErrors
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
}
