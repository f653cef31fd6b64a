package config

const (
	defaultDataDir              = "~/.local/share/cachegen"
	defaultArtifactDir          = "~/.local/share/cachegen/artifacts"
	defaultLogDir               = "~/.local/share/cachegen/logs"
	defaultAPIBind              = "127.0.0.1:7489"
	defaultStoreBackend         = "sqlite"
	defaultRedisAddr            = "127.0.0.1:6379"
	defaultKeyPrefix            = "cachegen:"
	defaultProducerURLTemplate  = "http://127.0.0.1:8080/{id}"
	defaultProducerTimeout      = 30
	defaultProducerUserAgent    = "cachegen/0.1"
	defaultProducerRPS          = 5.0
	defaultProducerBurst        = 5
	defaultTickIntervalSeconds  = 60
	defaultQueueBatchSize       = 10
	defaultTimeBudgetSeconds    = 45
	defaultQueueMaxAttempts     = 3
	defaultQueuePriority        = 10
	defaultStaleAfterSeconds    = 900
	defaultQueueRetentionDays   = 7
	defaultLockTimeoutSeconds   = 300
	defaultLockCleanupMinutes   = 60
	defaultRetryMaxAttempts     = 2
	defaultRetryInitialDelayMS  = 1000
	defaultRetryMaxDelayMS      = 30000
	defaultRetryMultiplier      = 2.0
	defaultBatchChunkSize       = 5
	defaultBatchRetentionHours  = 24
	defaultBatchMode            = BatchModeDirect
	defaultProgressRetentionHrs = 24
	defaultProgressMaxMessages  = 50
	defaultProgressMaxErrors    = 100
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 14
	defaultLogMaxSizeMB         = 50
)

// Batch execution modes.
const (
	BatchModeDirect = "direct"
	BatchModeQueue  = "queue"
)

// Key/value store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Store: Store{
			Backend:   defaultStoreBackend,
			RedisAddr: defaultRedisAddr,
			KeyPrefix: defaultKeyPrefix,
		},
		Producer: Producer{
			URLTemplate:       defaultProducerURLTemplate,
			TimeoutSeconds:    defaultProducerTimeout,
			UserAgent:         defaultProducerUserAgent,
			RequestsPerSecond: defaultProducerRPS,
			Burst:             defaultProducerBurst,
			Footer:            true,
		},
		Queue: Queue{
			TickIntervalSeconds: defaultTickIntervalSeconds,
			BatchSize:           defaultQueueBatchSize,
			TimeBudgetSeconds:   defaultTimeBudgetSeconds,
			MaxAttempts:         defaultQueueMaxAttempts,
			DefaultPriority:     defaultQueuePriority,
			StaleAfterSeconds:   defaultStaleAfterSeconds,
			RetentionDays:       defaultQueueRetentionDays,
		},
		Locks: Locks{
			TimeoutSeconds:         defaultLockTimeoutSeconds,
			CleanupIntervalMinutes: defaultLockCleanupMinutes,
		},
		Retry: Retry{
			MaxAttempts:    defaultRetryMaxAttempts,
			InitialDelayMS: defaultRetryInitialDelayMS,
			MaxDelayMS:     defaultRetryMaxDelayMS,
			Multiplier:     defaultRetryMultiplier,
			Jitter:         true,
		},
		Batch: Batch{
			ChunkSize:      defaultBatchChunkSize,
			RetentionHours: defaultBatchRetentionHours,
			Mode:           defaultBatchMode,
		},
		Progress: Progress{
			RetentionHours: defaultProgressRetentionHrs,
			MaxMessages:    defaultProgressMaxMessages,
			MaxErrors:      defaultProgressMaxErrors,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			ItemFailures:   true,
			Rollbacks:      true,
			Batches:        true,
			Operator:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
		},
	}
}
