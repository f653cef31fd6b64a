package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cachegen/internal/config"
	"cachegen/internal/fileutil"
	"cachegen/internal/lock"
	"cachegen/internal/logging"
	"cachegen/internal/retry"
	"cachegen/internal/services"
)

// Options configures an Executor.
type Options struct {
	Dir         string
	Producer    Producer
	Locks       *lock.Manager
	Metadata    MetadataStore
	Retry       retry.Config
	Limiter     *rate.Limiter
	LockTimeout time.Duration
	// ShouldGenerate is optional; nil generates every resource.
	ShouldGenerate ShouldGenerateFunc
	Subscribers    []Subscriber
	Logger         *slog.Logger
	Clock          func() time.Time
}

// DefaultRetry is the producer retry policy used when Options.Retry is zero.
var DefaultRetry = retry.Config{
	MaxAttempts:  2,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2,
	Jitter:       true,
}

// NewLimiter builds the producer throttle from the [producer] section.
// A non-positive rate disables throttling.
func NewLimiter(cfg config.Producer) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// Executor runs generate and delete as all-or-nothing operations.
type Executor struct {
	dir            string
	producer       Producer
	locks          *lock.Manager
	meta           MetadataStore
	retry          *retry.Executor
	limiter        *rate.Limiter
	lockTimeout    time.Duration
	shouldGenerate ShouldGenerateFunc
	logger         *slog.Logger
	now            func() time.Time

	subMu       sync.RWMutex
	subscribers []Subscriber
}

// NewExecutor validates opts and constructs an executor.
func NewExecutor(opts Options) (*Executor, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("artifact directory is required")
	}
	if opts.Producer == nil {
		return nil, errors.New("artifact producer is required")
	}
	if opts.Locks == nil {
		return nil, errors.New("lock manager is required")
	}
	if opts.Metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	retryCfg := opts.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = DefaultRetry
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := logging.NewComponentLogger(opts.Logger, "artifact")
	return &Executor{
		dir:            opts.Dir,
		producer:       opts.Producer,
		locks:          opts.Locks,
		meta:           opts.Metadata,
		retry:          retry.New(retryCfg, logger),
		limiter:        opts.Limiter,
		lockTimeout:    opts.LockTimeout,
		shouldGenerate: opts.ShouldGenerate,
		logger:         logger,
		now:            clock,
		subscribers:    append([]Subscriber(nil), opts.Subscribers...),
	}, nil
}

// Subscribe registers an additional event subscriber.
func (e *Executor) Subscribe(sub Subscriber) {
	if sub == nil {
		return
	}
	e.subMu.Lock()
	e.subscribers = append(e.subscribers, sub)
	e.subMu.Unlock()
}

// Dir returns the artifact directory.
func (e *Executor) Dir() string {
	return e.dir
}

// Metadata returns the tracked metadata for resourceID.
func (e *Executor) Metadata(ctx context.Context, resourceID string) (map[string]string, error) {
	return ReadMetadata(ctx, e.meta, resourceID)
}

// Generate produces and installs a fresh artifact for resourceID.
func (e *Executor) Generate(ctx context.Context, resourceID string) Result {
	result, _ := e.run(ctx, OpGenerate, resourceID, false)
	return result
}

// Delete removes the artifact and tracked metadata for resourceID.
func (e *Executor) Delete(ctx context.Context, resourceID string) Result {
	result, _ := e.run(ctx, OpDelete, resourceID, false)
	return result
}

// Apply dispatches op for resourceID.
func (e *Executor) Apply(ctx context.Context, op Operation, resourceID string) Result {
	result, _ := e.run(ctx, op, resourceID, false)
	return result
}

// run executes one operation. With keep set, a successful operation returns
// its snapshot (backup included) so Bulk can roll it back later.
func (e *Executor) run(ctx context.Context, op Operation, resourceID string, keep bool) (Result, *snapshot) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := e.now()
	ctx = services.WithResourceID(ctx, resourceID)
	logger := logging.WithContext(ctx, e.logger)

	result := Result{ResourceID: resourceID, Operation: op}
	finish := func(res Result) Result {
		res.Duration = e.now().Sub(started)
		return res
	}

	if strings.TrimSpace(resourceID) == "" {
		err := services.Wrap(services.ErrValidation, "artifact", string(op), "resource id is required", nil)
		return finish(failure(result, err)), nil
	}
	if op != OpGenerate && op != OpDelete {
		err := services.Wrap(services.ErrValidation, "artifact", "dispatch", fmt.Sprintf("unsupported operation %q", op), nil)
		return finish(failure(result, err)), nil
	}

	if op == OpGenerate && e.shouldGenerate != nil && !e.shouldGenerate(ctx, resourceID) {
		result.Success = true
		result.Skipped = true
		result = finish(result)
		logger.Debug("generation skipped by predicate")
		e.publish(ctx, EventSkipped, result)
		return result, nil
	}

	acquired, err := e.locks.Acquire(ctx, resourceID, e.lockTimeout)
	if err != nil {
		result = finish(failure(result, err))
		e.publish(ctx, EventFailed, result)
		return result, nil
	}
	if !acquired {
		result = finish(failure(result, services.ErrLockUnavailable))
		logger.Info("resource already being processed", logging.String("operation", string(op)))
		e.publish(ctx, EventFailed, result)
		return result, nil
	}
	defer func() {
		if releaseErr := e.locks.Release(context.WithoutCancel(ctx), resourceID); releaseErr != nil {
			logging.WarnWithContext(logger, "lock release failed", "lock_release_failed",
				logging.Error(releaseErr),
				logging.String(logging.FieldErrorHint, "the lock will expire after its timeout"),
				logging.String(logging.FieldImpact, "resource stays blocked until expiry"),
			)
		}
	}()

	snap, err := e.takeSnapshot(ctx, resourceID)
	if err != nil {
		err = services.Wrap(services.ErrWrite, "artifact", "snapshot", "capture rollback state", err)
		result = finish(failure(result, err))
		e.publish(ctx, EventFailed, result)
		return result, nil
	}

	var opErr error
	switch op {
	case OpGenerate:
		opErr = e.generate(ctx, snap, &result)
	case OpDelete:
		if !snap.existed {
			return e.deleteMissing(ctx, logger, snap, result, finish), nil
		}
		opErr = e.delete(ctx, snap, &result)
	}

	if opErr != nil {
		rollbackErr := e.restore(context.WithoutCancel(ctx), snap)
		result = failure(result, opErr)
		result.Path, result.Size, result.Fingerprint = "", 0, ""
		result.RolledBack = rollbackErr == nil
		if rollbackErr != nil {
			result.Error = fmt.Sprintf("%s (rollback failed: %v)", result.Error, rollbackErr)
			logging.ErrorWithContext(logger, "rollback failed", "artifact_rollback_failed",
				logging.String("operation", string(op)),
				logging.Error(rollbackErr),
				logging.String(logging.FieldErrorHint, "inspect the artifact directory and metadata for "+resourceID),
			)
		}
		result = finish(result)
		logger.Warn("artifact operation failed",
			logging.String("operation", string(op)),
			logging.String(logging.FieldErrorKind, result.Code),
			logging.Error(opErr),
			logging.Bool("rolled_back", result.RolledBack),
			logging.String(logging.FieldEventType, "artifact_operation_failed"),
			logging.String(logging.FieldErrorHint, "prior artifact and metadata were restored"),
			logging.String(logging.FieldImpact, "artifact left unchanged"),
		)
		e.publish(ctx, EventFailed, result)
		if result.RolledBack {
			e.publish(ctx, EventRolledBack, result)
		}
		return result, nil
	}

	result.Success = true
	result = finish(result)
	if keep {
		return e.settle(ctx, logger, op, result), snap
	}
	if err := snap.discard(); err != nil {
		logger.Debug("remove backup failed", logging.String("backup", snap.backupPath), logging.Error(err))
	}
	return e.settle(ctx, logger, op, result), nil
}

func (e *Executor) settle(ctx context.Context, logger *slog.Logger, op Operation, result Result) Result {
	if op == OpDelete {
		logger.Info("artifact deleted", logging.Duration("duration", result.Duration))
		e.publish(ctx, EventDeleted, result)
		return result
	}
	logger.Info("artifact generated",
		logging.Int64("size", result.Size),
		logging.Duration("duration", result.Duration),
	)
	e.publish(ctx, EventGenerated, result)
	return result
}

func (e *Executor) generate(ctx context.Context, snap *snapshot, result *Result) error {
	content, err := e.produce(ctx, snap.resourceID)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return services.Wrap(services.ErrValidation, "artifact", "validate", "producer returned empty content", nil)
	}
	if err := fileutil.WriteFileAtomic(snap.path, content, 0o644); err != nil {
		if errors.Is(err, fileutil.ErrEmptyWrite) {
			return services.Wrap(services.ErrValidation, "artifact", "validate", "written artifact is empty", err)
		}
		return services.Wrap(services.ErrWrite, "artifact", "write", snap.path, err)
	}

	fingerprint := fileutil.Fingerprint(content)
	size := int64(len(content))
	updates := [][2]string{
		{MetaGeneratedAt, e.now().UTC().Format(time.RFC3339Nano)},
		{MetaSize, strconv.FormatInt(size, 10)},
		{MetaFingerprint, fingerprint},
	}
	for _, kv := range updates {
		if err := e.meta.SetMeta(ctx, snap.resourceID, kv[0], kv[1]); err != nil {
			return services.Wrap(services.ErrWrite, "artifact", "metadata", "update "+kv[0], err)
		}
	}
	result.Path = snap.path
	result.Size = size
	result.Fingerprint = fingerprint
	return nil
}

// produce calls the producer under the retry policy. Terminal errors such as
// a missing resource are not retried.
func (e *Executor) produce(ctx context.Context, resourceID string) ([]byte, error) {
	var output []byte
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		raw, err := e.producer.Capture(ctx, resourceID)
		if err != nil {
			if services.IsTerminal(err) {
				return retry.Permanent(err)
			}
			return err
		}
		transformed, err := e.producer.Transform(ctx, raw, resourceID)
		if err != nil {
			if services.IsTerminal(err) {
				return retry.Permanent(err)
			}
			return err
		}
		output = transformed
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrProducer, "artifact", "produce", "", err)
	}
	return output, nil
}

func (e *Executor) delete(ctx context.Context, snap *snapshot, result *Result) error {
	if err := os.Remove(snap.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrWrite, "artifact", "delete", snap.path, err)
	}
	for _, key := range TrackedKeys {
		if err := e.meta.DeleteMeta(ctx, snap.resourceID, key); err != nil {
			return services.Wrap(services.ErrWrite, "artifact", "metadata", "delete "+key, err)
		}
	}
	result.Path = snap.path
	return nil
}

// deleteMissing reports not_found for a resource without an artifact and
// clears any orphaned tracked metadata so nothing is left behind.
func (e *Executor) deleteMissing(ctx context.Context, logger *slog.Logger, snap *snapshot, result Result, finish func(Result) Result) Result {
	for key, prior := range snap.meta {
		if prior == nil {
			continue
		}
		if err := e.meta.DeleteMeta(ctx, snap.resourceID, key); err != nil {
			logger.Warn("orphaned metadata cleanup failed",
				logging.String("key", key),
				logging.Error(err),
				logging.String(logging.FieldEventType, "artifact_metadata_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "run delete again once the store is reachable"),
				logging.String(logging.FieldImpact, "stale metadata remains for a missing artifact"),
			)
		}
	}
	err := services.Wrap(services.ErrNotFound, "artifact", "delete", "no artifact exists", nil)
	result = finish(failure(result, err))
	e.publish(ctx, EventFailed, result)
	return result
}

func failure(result Result, err error) Result {
	result.Success = false
	result.Err = err
	result.Code = services.Kind(err)
	if errors.Is(err, services.ErrLockUnavailable) {
		result.Error = services.ErrLockUnavailable.Error()
	} else {
		result.Error = err.Error()
	}
	return result
}

func (e *Executor) publish(ctx context.Context, eventType EventType, result Result) {
	e.subMu.RLock()
	subs := e.subscribers
	e.subMu.RUnlock()
	if len(subs) == 0 {
		return
	}
	event := Event{Type: eventType, ResourceID: result.ResourceID, Operation: result.Operation, Result: result}
	for _, sub := range subs {
		sub.HandleArtifactEvent(ctx, event)
	}
}
