package testsupport

import (
	"path/filepath"
	"testing"

	"cachegen/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Retry.InitialDelayMS = 1
	cfgVal.Retry.MaxDelayMS = 2
	cfgVal.Retry.Jitter = false
	cfgVal.Producer.RequestsPerSecond = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRedis points the key/value store at a Redis server.
func WithRedis(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Backend = config.BackendRedis
		b.cfg.Store.RedisAddr = addr
		b.cfg.Store.KeyPrefix = "test:"
	}
}

// WithProducerURL overrides the producer URL template.
func WithProducerURL(template string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Producer.URLTemplate = template
	}
}

// WithQueue adjusts queue sizing for the test.
func WithQueue(batchSize, maxAttempts int) ConfigOption {
	return func(b *configBuilder) {
		if batchSize > 0 {
			b.cfg.Queue.BatchSize = batchSize
		}
		if maxAttempts > 0 {
			b.cfg.Queue.MaxAttempts = maxAttempts
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
