package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"cachegen/internal/api"
	"cachegen/internal/app"
	"cachegen/internal/logging"
	"cachegen/internal/notifications"
	"cachegen/internal/workflow"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	app       *app.App
	logger    *slog.Logger
	scheduler *workflow.Scheduler
	apiServer *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon around the assembled services.
func New(a *app.App, logger *slog.Logger) (*Daemon, error) {
	if a == nil || a.Config == nil {
		return nil, errors.New("daemon requires assembled services")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := a.Config.LockFilePath()
	d := &Daemon{
		app:       a,
		logger:    logger,
		scheduler: a.Scheduler(),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	srv, err := newAPIServer(a.Config, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiServer = srv
	return d, nil
}

// Start acquires the daemon lock, then launches the scheduler and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cachegen daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.apiServer.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api server: %w", err)
	}
	if err := d.scheduler.Start(d.ctx); err != nil {
		d.apiServer.stop()
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start scheduler: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("cachegen daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.apiServer.address()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	d.apiServer.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("cachegen daemon stopped")
}

// Close stops the daemon and releases the services.
func (d *Daemon) Close() error {
	d.Stop()
	return d.app.Close()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Addr returns the API listener address once started.
func (d *Daemon) Addr() string {
	return d.apiServer.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (api.DaemonStatus, error) {
	summary, err := d.app.Manager.Status(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	locks, err := d.app.Locks.List(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.app.Queue.Path(),
		LockFilePath: d.lockPath,
		StoreBackend: d.app.Config.Store.Backend,
		ActiveLocks:  len(locks),
		Workflow:     api.FromStatusSummary(summary),
	}, nil
}

// ReleaseAllLocks force-releases every lock and notifies the operator.
func (d *Daemon) ReleaseAllLocks(ctx context.Context) (int, error) {
	released, err := d.app.Locks.ForceReleaseAll(ctx)
	if err != nil {
		return released, err
	}
	if err := d.app.Notifier.Publish(ctx, notifications.EventLocksReleased, notifications.Payload{"count": released}); err != nil {
		d.logger.Debug("lock release notification failed", logging.Error(err))
	}
	return released, nil
}
