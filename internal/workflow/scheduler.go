package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"cachegen/internal/config"
	"cachegen/internal/kvstore"
	"cachegen/internal/lock"
	"cachegen/internal/logging"
	"cachegen/internal/telemetry"
)

// Job is one periodic maintenance task.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker until stopped.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler for jobs. Jobs without a positive interval
// or a Run function are ignored.
func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	valid := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Interval > 0 && job.Run != nil {
			valid = append(valid, job)
		}
	}
	return &Scheduler{jobs: valid, logger: logging.NewComponentLogger(logger, "scheduler")}
}

// DefaultJobs returns the daemon's maintenance jobs: tick and stale recovery
// on the tick interval, expired-lock cleanup, and daily retention of queue
// rows plus expired key/value state (progress sessions, batches).
func DefaultJobs(cfg *config.Config, m *Manager, locks *lock.Manager, kv kvstore.Store) []Job {
	jobs := []Job{
		{
			Name:     "tick",
			Interval: cfg.TickInterval(),
			Run: func(ctx context.Context) error {
				_, err := m.Tick(ctx)
				return err
			},
		},
		{
			Name:       "stale-recovery",
			Interval:   cfg.TickInterval(),
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := m.RecoverStale(ctx)
				return err
			},
		},
		{
			Name:     "lock-cleanup",
			Interval: cfg.LockCleanupInterval(),
			Run: func(ctx context.Context) error {
				removed, err := locks.CleanupExpired(ctx, cfg.LockTimeout())
				if removed > 0 {
					telemetry.LocksCleaned.Add(float64(removed))
				}
				return err
			},
		},
		{
			Name:       "retention",
			Interval:   24 * time.Hour,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, queueErr := m.PurgeRetention(ctx)
				var kvErr error
				if kv != nil {
					_, kvErr = kv.PurgeExpired(ctx)
				}
				return errors.Join(queueErr, kvErr)
			},
		},
	}
	return jobs
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	if len(s.jobs) == 0 {
		s.mu.Unlock()
		return errors.New("no scheduler jobs configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(len(s.jobs))
	s.mu.Unlock()

	for _, job := range s.jobs {
		go s.loop(runCtx, job)
	}
	s.logger.Info("scheduler started", logging.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels every job and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Running reports whether the scheduler is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow executes the named job once on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.runOnce(ctx, job)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	if job.RunOnStart {
		_ = s.runOnce(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) (err error) {
	logger := s.logger.With(logging.String("job", job.Name))
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			logger.Error("scheduler job panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.Alert("job_panic"),
				logging.String(logging.FieldEventType, "scheduler_job_panic"),
				logging.String(logging.FieldErrorHint, "report the stack trace; the job will run again next interval"),
			)
		}
	}()

	err = job.Run(ctx)
	switch {
	case err == nil:
		logger.Debug("scheduler job finished", logging.Duration("duration", time.Since(started)))
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		logger.Debug("scheduler job interrupted by shutdown")
	default:
		logger.Error("scheduler job failed",
			logging.Error(err),
			logging.Duration("duration", time.Since(started)),
			logging.String(logging.FieldEventType, "scheduler_job_failed"),
			logging.String(logging.FieldErrorHint, "check the store and producer; the job will run again next interval"),
		)
	}
	return err
}
