package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cachegen/internal/config"
	"cachegen/internal/kvstore"
	"cachegen/internal/lock"
	"cachegen/internal/logging"
	"cachegen/internal/notifications"
	"cachegen/internal/progress"
	"cachegen/internal/services"
	"cachegen/internal/telemetry"
)

// Status is the lifecycle state of a batch job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ErrCancelled is returned by ProcessChunk for a cancelled job.
var ErrCancelled = errors.New("batch cancelled")

const (
	keyPrefix        = "batch:"
	defaultChunkSize = 10
)

// Key returns the store key for a batch id. The same string names the
// batch's processing lock.
func Key(id string) string {
	return keyPrefix + id
}

// Job is the persisted state of a batch.
type Job struct {
	ID           string            `json:"id"`
	Operation    string            `json:"operation"`
	Items        []string          `json:"items"`
	ChunkSize    int               `json:"chunk_size"`
	CurrentChunk int               `json:"current_chunk"`
	Processed    int               `json:"processed"`
	Successful   int               `json:"successful"`
	Failed       int               `json:"failed"`
	Errors       map[string]string `json:"errors,omitempty"`
	Status       Status            `json:"status"`
	ProgressID   string            `json:"progress_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Total returns the number of items in the job.
func (j *Job) Total() int {
	return len(j.Items)
}

// TotalChunks returns how many ProcessChunk calls the job needs.
func (j *Job) TotalChunks() int {
	if j.ChunkSize <= 0 {
		return 0
	}
	return (len(j.Items) + j.ChunkSize - 1) / j.ChunkSize
}

// Percentage returns the processed share rounded down.
func (j *Job) Percentage() int {
	if len(j.Items) == 0 {
		return 100
	}
	return j.Processed * 100 / len(j.Items)
}

// ChunkResult reports the state after one ProcessChunk call.
type ChunkResult struct {
	BatchID     string            `json:"batch_id"`
	Chunk       int               `json:"chunk"`
	TotalChunks int               `json:"total_chunks"`
	Processed   int               `json:"processed"`
	Successful  int               `json:"successful"`
	Failed      int               `json:"failed"`
	Total       int               `json:"total"`
	Percentage  int               `json:"progress_pct"`
	Status      Status            `json:"status"`
	Errors      map[string]string `json:"errors,omitempty"`
}

func resultFor(job *Job, chunk int, errs map[string]string) ChunkResult {
	return ChunkResult{
		BatchID:     job.ID,
		Chunk:       chunk,
		TotalChunks: job.TotalChunks(),
		Processed:   job.Processed,
		Successful:  job.Successful,
		Failed:      job.Failed,
		Total:       job.Total(),
		Percentage:  job.Percentage(),
		Status:      job.Status,
		Errors:      errs,
	}
}

// Processor owns batch jobs.
type Processor struct {
	kv          kvstore.Store
	locks       *lock.Manager
	tracker     *progress.Tracker
	runner      Runner
	notifier    notifications.Service
	logger      *slog.Logger
	ttl         time.Duration
	lockTimeout time.Duration
	chunkSize   int
	now         func() time.Time

	mu sync.Mutex
}

// Option customizes a Processor.
type Option func(*Processor)

// WithClock overrides the processor's time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithNotifier publishes a notification when a job completes.
func WithNotifier(notifier notifications.Service) Option {
	return func(p *Processor) {
		if notifier != nil {
			p.notifier = notifier
		}
	}
}

// NewProcessor builds a processor. runner decides how each chunk's items are
// executed.
func NewProcessor(cfg *config.Config, kv kvstore.Store, locks *lock.Manager, tracker *progress.Tracker, runner Runner, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		kv:          kv,
		locks:       locks,
		tracker:     tracker,
		runner:      runner,
		notifier:    notifications.NewService(nil),
		logger:      logging.NewComponentLogger(logger, "batch"),
		ttl:         cfg.BatchRetention(),
		lockTimeout: cfg.LockTimeout(),
		chunkSize:   cfg.Batch.ChunkSize,
		now:         time.Now,
	}
	if p.chunkSize <= 0 {
		p.chunkSize = defaultChunkSize
	}
	if p.lockTimeout <= 0 {
		p.lockTimeout = time.Minute
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StartBatch validates the request, opens a progress session and persists a
// pending job. A chunkSize of zero uses the configured default.
func (p *Processor) StartBatch(ctx context.Context, items []string, operation string, chunkSize int) (string, error) {
	operation = strings.ToLower(strings.TrimSpace(operation))
	if err := p.runner.Validate(operation); err != nil {
		return "", services.Wrap(services.ErrValidation, "batch", "start", err.Error(), nil)
	}
	cleaned := make([]string, 0, len(items))
	for i, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			return "", services.Wrap(services.ErrValidation, "batch", "start", fmt.Sprintf("item %d is empty", i), nil)
		}
		cleaned = append(cleaned, item)
	}
	if len(cleaned) == 0 {
		return "", services.Wrap(services.ErrValidation, "batch", "start", "no items", nil)
	}
	if chunkSize < 0 {
		return "", services.Wrap(services.ErrValidation, "batch", "start", "chunk size must not be negative", nil)
	}
	if chunkSize == 0 {
		chunkSize = p.chunkSize
	}

	session, err := p.tracker.Start(ctx, "batch "+operation, len(cleaned))
	if err != nil {
		return "", fmt.Errorf("start batch progress: %w", err)
	}
	now := p.now().UTC()
	job := &Job{
		ID:         uuid.NewString(),
		Operation:  operation,
		Items:      cleaned,
		ChunkSize:  chunkSize,
		Errors:     map[string]string{},
		Status:     StatusPending,
		ProgressID: session.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.save(ctx, job); err != nil {
		return "", err
	}
	p.logger.Info("batch started",
		logging.String(logging.FieldBatchID, job.ID),
		logging.String("operation", operation),
		logging.Int("items", len(cleaned)),
		logging.Int("chunk_size", chunkSize),
		logging.Int("chunks", job.TotalChunks()),
	)
	return job.ID, nil
}

// ProcessChunk runs the next chunk of the job. A completed job returns its
// final state without doing work; a cancelled job returns ErrCancelled.
func (p *Processor) ProcessChunk(ctx context.Context, id string) (ChunkResult, error) {
	var out ChunkResult
	err := p.locks.WithLock(ctx, Key(id), p.lockTimeout, func(ctx context.Context) error {
		job, err := p.Get(ctx, id)
		if err != nil {
			return err
		}
		switch job.Status {
		case StatusCancelled:
			out = resultFor(job, job.CurrentChunk, nil)
			return fmt.Errorf("%w: %s", ErrCancelled, id)
		case StatusCompleted:
			out = resultFor(job, job.CurrentChunk, nil)
			return nil
		}
		out, err = p.runChunk(ctx, job)
		return err
	})
	return out, err
}

func (p *Processor) runChunk(ctx context.Context, job *Job) (ChunkResult, error) {
	logger := p.logger.With(logging.String(logging.FieldBatchID, job.ID))
	start := job.CurrentChunk * job.ChunkSize
	end := min(start+job.ChunkSize, len(job.Items))
	ids := job.Items[start:end]
	job.Status = StatusProcessing

	outcomes, err := p.runner.Run(ctx, job.Operation, ids)
	if err != nil {
		return resultFor(job, job.CurrentChunk, nil), fmt.Errorf("run batch chunk %d: %w", job.CurrentChunk, err)
	}

	chunkErrs := map[string]string{}
	for _, outcome := range outcomes {
		job.Processed++
		if outcome.Success {
			job.Successful++
			continue
		}
		job.Failed++
		job.Errors[outcome.ID] = outcome.Error
		chunkErrs[outcome.ID] = outcome.Error
		logger.Warn("batch item failed",
			logging.String(logging.FieldResourceID, outcome.ID),
			logging.String("operation", job.Operation),
			logging.String("error_message", outcome.Error),
			logging.String(logging.FieldEventType, "batch_item_failed"),
			logging.String(logging.FieldErrorHint, "retry the item or inspect the producer"),
		)
		if _, err := p.tracker.AddError(ctx, job.ProgressID, outcome.ID+": "+outcome.Error); err != nil {
			logger.Debug("progress error append failed", logging.Error(err))
		}
	}
	chunk := job.CurrentChunk
	job.CurrentChunk++
	job.UpdatedAt = p.now().UTC()
	telemetry.BatchChunks.Inc()

	label := ""
	if len(ids) > 0 {
		label = ids[len(ids)-1]
	}
	message := fmt.Sprintf("chunk %d/%d: %d ok, %d failed", chunk+1, job.TotalChunks(), len(ids)-len(chunkErrs), len(chunkErrs))
	if _, err := p.tracker.Update(ctx, job.ProgressID, job.Processed, label, message); err != nil {
		logger.Debug("progress update failed", logging.Error(err))
	}

	if job.Processed >= job.Total() {
		job.Status = StatusCompleted
	}
	if err := p.save(ctx, job); err != nil {
		return resultFor(job, chunk, chunkErrs), err
	}

	logger.Debug("batch chunk processed",
		logging.Int("chunk", chunk+1),
		logging.Int("chunks", job.TotalChunks()),
		logging.Int("processed", job.Processed),
		logging.Int("total", job.Total()),
	)
	if job.Status == StatusCompleted {
		p.finish(ctx, job)
	}
	return resultFor(job, chunk, chunkErrs), nil
}

func (p *Processor) finish(ctx context.Context, job *Job) {
	status := progress.StatusCompleted
	if job.Successful == 0 && job.Failed > 0 {
		status = progress.StatusFailed
	}
	if _, err := p.tracker.Complete(ctx, job.ProgressID, status); err != nil {
		p.logger.Debug("progress completion failed", logging.String(logging.FieldBatchID, job.ID), logging.Error(err))
	}
	p.logger.Info("batch completed",
		logging.String(logging.FieldBatchID, job.ID),
		logging.String("operation", job.Operation),
		logging.Int("successful", job.Successful),
		logging.Int("failed", job.Failed),
		logging.Duration("elapsed", job.UpdatedAt.Sub(job.CreatedAt)),
	)
	if err := p.notifier.Publish(ctx, notifications.EventBatchCompleted, notifications.Payload{
		"batch_id":   job.ID,
		"operation":  job.Operation,
		"successful": job.Successful,
		"failed":     job.Failed,
		"total":      job.Total(),
	}); err != nil {
		p.logger.Debug("batch notification failed", logging.Error(err))
	}
}

// Cancel stops a job. Chunks already processed stay processed. Cancelling a
// completed job is rejected.
func (p *Processor) Cancel(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := p.locks.WithLock(ctx, Key(id), p.lockTimeout, func(ctx context.Context) error {
		var err error
		job, err = p.Get(ctx, id)
		if err != nil {
			return err
		}
		switch job.Status {
		case StatusCancelled:
			return nil
		case StatusCompleted:
			return services.Wrap(services.ErrValidation, "batch", "cancel", "batch already completed", nil)
		}
		job.Status = StatusCancelled
		job.UpdatedAt = p.now().UTC()
		if err := p.save(ctx, job); err != nil {
			return err
		}
		if _, err := p.tracker.Cancel(ctx, job.ProgressID); err != nil && !errors.Is(err, progress.ErrClosed) {
			p.logger.Debug("progress cancel failed", logging.String(logging.FieldBatchID, id), logging.Error(err))
		}
		p.logger.Info("batch cancelled",
			logging.String(logging.FieldBatchID, id),
			logging.Int("processed", job.Processed),
			logging.Int("total", job.Total()),
		)
		return nil
	})
	return job, err
}

// Get loads a job.
func (p *Processor) Get(ctx context.Context, id string) (*Job, error) {
	data, ok, err := p.kv.Get(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "batch", "get", id, nil)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", id, err)
	}
	if job.Errors == nil {
		job.Errors = map[string]string{}
	}
	return &job, nil
}

func (p *Processor) save(ctx context.Context, job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := p.kv.Set(ctx, Key(job.ID), data, p.ttl); err != nil {
		return fmt.Errorf("store batch: %w", err)
	}
	return nil
}
