package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Store selects the key/value backend used for locks, progress sessions,
// batch state, and artifact metadata. The queue itself always lives in SQLite.
type Store struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisDB       int    `toml:"redis_db"`
	RedisPassword string `toml:"redis_password"`
	KeyPrefix     string `toml:"key_prefix"`
}

// Producer configures the reference HTTP artifact producer.
type Producer struct {
	URLTemplate       string  `toml:"url_template"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	UserAgent         string  `toml:"user_agent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	Footer            bool    `toml:"footer"`
}

// Queue contains scheduling and retention settings for the work queue.
type Queue struct {
	TickIntervalSeconds int `toml:"tick_interval_seconds"`
	BatchSize           int `toml:"batch_size"`
	TimeBudgetSeconds   int `toml:"time_budget_seconds"`
	MaxAttempts         int `toml:"max_attempts"`
	DefaultPriority     int `toml:"default_priority"`
	StaleAfterSeconds   int `toml:"stale_after_seconds"`
	RetentionDays       int `toml:"retention_days"`
}

// Locks contains per-resource lock settings.
type Locks struct {
	TimeoutSeconds         int `toml:"timeout_seconds"`
	CleanupIntervalMinutes int `toml:"cleanup_interval_minutes"`
}

// Retry contains the backoff policy applied to producer calls.
type Retry struct {
	MaxAttempts    int     `toml:"max_attempts"`
	InitialDelayMS int     `toml:"initial_delay_ms"`
	MaxDelayMS     int     `toml:"max_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
	Jitter         bool    `toml:"jitter"`
}

// Batch contains chunked batch execution settings.
type Batch struct {
	ChunkSize      int    `toml:"chunk_size"`
	RetentionHours int    `toml:"retention_hours"`
	Mode           string `toml:"mode"`
}

// Progress contains progress session settings.
type Progress struct {
	RetentionHours int `toml:"retention_hours"`
	MaxMessages    int `toml:"max_messages"`
	MaxErrors      int `toml:"max_errors"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	ItemFailures   bool   `toml:"item_failures"`
	Rollbacks      bool   `toml:"rollbacks"`
	Batches        bool   `toml:"batches"`
	Operator       bool   `toml:"operator"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	MaxSizeMB     int    `toml:"max_size_mb"`
}

// Config encapsulates all configuration values for cachegen.
//
// Configuration sections by subsystem:
//   - Paths: data, artifact and log directories plus the API bind address
//   - Store: key/value backend (sqlite or redis)
//   - Producer: HTTP capture source and throttling
//   - Queue: tick cadence, per-tick capacity, retention
//   - Locks: per-resource lock timeout and cleanup cadence
//   - Retry: producer backoff policy
//   - Batch, Progress: chunked execution and session retention
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and rotation
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Producer      Producer      `toml:"producer"`
	Queue         Queue         `toml:"queue"`
	Locks         Locks         `toml:"locks"`
	Retry         Retry         `toml:"retry"`
	Batch         Batch         `toml:"batch"`
	Progress      Progress      `toml:"progress"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cachegen/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cachegen.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite file backing the work queue.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// StateDBPath returns the SQLite file backing the key/value store when the
// sqlite backend is selected.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Paths.DataDir, "state.db")
}

// LockFilePath returns the daemon single-instance lock path.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.DataDir, "cachegend.lock")
}

// PIDFilePath returns the file the running daemon records its process id in.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.Paths.DataDir, "cachegend.pid")
}

// APIBaseURL returns the base URL clients use to reach the daemon API.
func (c *Config) APIBaseURL() string {
	bind := strings.TrimSpace(c.Paths.APIBind)
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

// TickInterval returns the scheduler tick cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Queue.TickIntervalSeconds) * time.Second
}

// TimeBudget returns the per-tick processing budget.
func (c *Config) TimeBudget() time.Duration {
	return time.Duration(c.Queue.TimeBudgetSeconds) * time.Second
}

// StaleAfter returns how long an item may stay in processing before the
// recovery sweep requeues it.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Queue.StaleAfterSeconds) * time.Second
}

// QueueRetention returns how long terminal queue items are retained.
func (c *Config) QueueRetention() time.Duration {
	return time.Duration(c.Queue.RetentionDays) * 24 * time.Hour
}

// LockTimeout returns the per-resource lock timeout.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Locks.TimeoutSeconds) * time.Second
}

// LockCleanupInterval returns the cadence of expired-lock cleanup.
func (c *Config) LockCleanupInterval() time.Duration {
	return time.Duration(c.Locks.CleanupIntervalMinutes) * time.Minute
}

// BatchRetention returns how long batch state is retained.
func (c *Config) BatchRetention() time.Duration {
	return time.Duration(c.Batch.RetentionHours) * time.Hour
}

// ProgressRetention returns how long progress sessions are retained.
func (c *Config) ProgressRetention() time.Duration {
	return time.Duration(c.Progress.RetentionHours) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
