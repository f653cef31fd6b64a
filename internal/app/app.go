// Package app assembles the cachegen services from configuration. The
// daemon and the CLI both build an App, so the two always share one wiring
// of stores, locks, executor, queue manager, batches and progress.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"cachegen/internal/artifact"
	"cachegen/internal/batch"
	"cachegen/internal/config"
	"cachegen/internal/kvstore"
	"cachegen/internal/lock"
	"cachegen/internal/logging"
	"cachegen/internal/notifications"
	"cachegen/internal/producer"
	"cachegen/internal/progress"
	"cachegen/internal/queue"
	"cachegen/internal/retry"
	"cachegen/internal/services"
	"cachegen/internal/telemetry"
	"cachegen/internal/workflow"
)

// App holds the wired services.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	KV       kvstore.Store
	Locks    *lock.Manager
	Executor *artifact.Executor
	Queue    *queue.Store
	Manager  *workflow.Manager
	Progress *progress.Tracker
	Batches  *batch.Processor
	Notifier notifications.Service
}

// Option customizes Open.
type Option func(*options)

type options struct {
	producer artifact.Producer
	notifier notifications.Service
}

// WithProducer replaces the HTTP producer.
func WithProducer(p artifact.Producer) Option {
	return func(o *options) { o.producer = p }
}

// WithNotifier replaces the ntfy notifier.
func WithNotifier(n notifications.Service) Option {
	return func(o *options) { o.notifier = n }
}

// Open builds every service. Callers must Close the App.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	telemetry.Register()

	notifier := o.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	prod := o.producer
	if prod == nil {
		httpProducer, err := producer.New(cfg.Producer, logger)
		if err != nil {
			return nil, err
		}
		prod = httpProducer
	}

	kv, err := kvstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open key/value store: %w", err)
	}
	locks := lock.NewManager(kv, cfg.LockTimeout(), logger)

	retryCfg := retry.FromConfig(cfg.Retry)
	retryCfg.RetryOn = []error{services.ErrProducer, services.ErrTransient}
	exec, err := artifact.NewExecutor(artifact.Options{
		Dir:         cfg.Paths.ArtifactDir,
		Producer:    prod,
		Locks:       locks,
		Metadata:    artifact.NewKVMetadata(kv),
		Retry:       retryCfg,
		Limiter:     artifact.NewLimiter(cfg.Producer),
		LockTimeout: cfg.LockTimeout(),
		Subscribers: []artifact.Subscriber{
			telemetry.ArtifactSubscriber{},
			notifications.NewArtifactSubscriber(notifier, logger),
		},
		Logger: logger,
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	store, err := queue.Open(cfg)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	manager := workflow.NewManager(cfg, store, exec, locks, logger, workflow.WithNotifier(notifier))
	tracker := progress.NewTracker(kv, cfg.Progress, logger, progress.WithLocks(locks))

	var runner batch.Runner = batch.NewDirectRunner(exec)
	if cfg.Batch.Mode == config.BatchModeQueue {
		runner = batch.NewQueueRunner(manager, 0)
	}
	batches := batch.NewProcessor(cfg, kv, locks, tracker, runner, logger, batch.WithNotifier(notifier))

	return &App{
		Config:   cfg,
		Logger:   logger,
		KV:       kv,
		Locks:    locks,
		Executor: exec,
		Queue:    store,
		Manager:  manager,
		Progress: tracker,
		Batches:  batches,
		Notifier: notifier,
	}, nil
}

// Scheduler returns a scheduler running the default maintenance jobs.
func (a *App) Scheduler() *workflow.Scheduler {
	return workflow.NewScheduler(a.Logger, workflow.DefaultJobs(a.Config, a.Manager, a.Locks, a.KV)...)
}

// Close releases the stores.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.KV != nil {
		errs = append(errs, a.KV.Close())
	}
	return errors.Join(errs...)
}
