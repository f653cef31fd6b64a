package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cachegen/internal/artifact"
	"cachegen/internal/config"
	"cachegen/internal/lock"
	"cachegen/internal/logging"
	"cachegen/internal/notifications"
	"cachegen/internal/queue"
	"cachegen/internal/services"
	"cachegen/internal/telemetry"
)

// TickLockID is the lock resource guarding Tick.
const TickLockID = "queue:tick"

// Operations is the executor surface the manager dispatches to.
type Operations interface {
	Generate(ctx context.Context, resourceID string) artifact.Result
	Delete(ctx context.Context, resourceID string) artifact.Result
}

// CustomHandler runs a custom queue action.
type CustomHandler func(ctx context.Context, item *queue.Item) error

// Manager coordinates queue processing.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	ops      Operations
	locks    *lock.Manager
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time

	handlersMu sync.RWMutex
	handlers   map[string]CustomHandler

	mu          sync.Mutex
	lastTick    *TickReport
	lastErr     error
	lastErrAt   time.Time
	queueActive bool
	queueStart  time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithClock overrides the time source used for budgets and retention.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithNotifier overrides the notifier built from configuration.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// NewManager constructs a queue manager.
func NewManager(cfg *config.Config, store *queue.Store, ops Operations, locks *lock.Manager, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    store,
		ops:      ops,
		locks:    locks,
		notifier: notifications.NewService(cfg),
		logger:   logging.NewComponentLogger(logger, "workflow"),
		now:      time.Now,
		handlers: make(map[string]CustomHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying queue store.
func (m *Manager) Store() *queue.Store {
	return m.store
}

// RegisterHandler installs the handler for custom items whose
// payload["handler"] equals name.
func (m *Manager) RegisterHandler(name string, handler CustomHandler) {
	name = strings.TrimSpace(name)
	if name == "" || handler == nil {
		return
	}
	m.handlersMu.Lock()
	m.handlers[name] = handler
	m.handlersMu.Unlock()
}

func (m *Manager) handler(name string) (CustomHandler, bool) {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()
	h, ok := m.handlers[strings.TrimSpace(name)]
	return h, ok
}

// EnqueueResult reports the item an enqueue resolved to.
type EnqueueResult struct {
	Item    *queue.Item `json:"item"`
	Created bool        `json:"created"`
}

// Enqueue adds a request to the queue, returning the existing active item
// when one already covers the same target and action.
func (m *Manager) Enqueue(ctx context.Context, req queue.EnqueueRequest) (EnqueueResult, error) {
	item, created, err := m.store.Enqueue(ctx, req)
	if err != nil {
		return EnqueueResult{}, err
	}
	if created {
		telemetry.EnqueueCounter.Inc()
		m.logger.Debug("item enqueued",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldResourceID, item.TargetID),
			logging.String("action", string(item.Action)),
			logging.Int("priority", item.Priority),
		)
	}
	return EnqueueResult{Item: item, Created: created}, nil
}

// RejectedRequest describes a bulk request that failed validation.
type RejectedRequest struct {
	Index    int    `json:"index"`
	TargetID string `json:"target_id"`
	Error    string `json:"error"`
}

// BulkEnqueueReport summarizes EnqueueBulk.
type BulkEnqueueReport struct {
	Created      int               `json:"created"`
	Deduplicated int               `json:"deduplicated"`
	Rejected     []RejectedRequest `json:"rejected,omitempty"`
	Items        []*queue.Item     `json:"items"`
}

// EnqueueBulk enqueues every request. Invalid requests are reported and
// skipped; a store failure stops the run and is returned with the partial
// report.
func (m *Manager) EnqueueBulk(ctx context.Context, reqs []queue.EnqueueRequest) (BulkEnqueueReport, error) {
	report := BulkEnqueueReport{Items: make([]*queue.Item, 0, len(reqs))}
	for i, req := range reqs {
		res, err := m.Enqueue(ctx, req)
		if err != nil {
			if errors.Is(err, services.ErrValidation) {
				report.Rejected = append(report.Rejected, RejectedRequest{Index: i, TargetID: req.TargetID, Error: err.Error()})
				continue
			}
			return report, fmt.Errorf("enqueue request %d: %w", i, err)
		}
		if res.Created {
			report.Created++
		} else {
			report.Deduplicated++
		}
		report.Items = append(report.Items, res.Item)
	}
	return report, nil
}

// Items lists queue items, optionally filtered by status.
func (m *Manager) Items(ctx context.Context, statuses ...queue.Status) ([]*queue.Item, error) {
	return m.store.List(ctx, statuses...)
}

// Clear removes items in the given statuses, or every item when none are
// given.
func (m *Manager) Clear(ctx context.Context, statuses ...queue.Status) (int64, error) {
	removed, err := m.store.Clear(ctx, statuses...)
	if err != nil {
		return 0, err
	}
	m.logger.Info("queue cleared",
		logging.Int64("removed", removed),
		logging.Any("statuses", statuses),
		logging.String(logging.FieldEventType, "queue_cleared"),
	)
	return removed, nil
}

// RetryFailed returns failed items to pending with a fresh attempt budget.
func (m *Manager) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	updated, err := m.store.RetryFailed(ctx, ids...)
	if err != nil {
		return 0, err
	}
	m.logger.Info("failed items retried",
		logging.Int64("updated", updated),
		logging.String(logging.FieldEventType, "queue_retry_failed"),
	)
	return updated, nil
}

// RecoverStale requeues items left in processing longer than the stale
// threshold, failing those without attempts left.
func (m *Manager) RecoverStale(ctx context.Context) (queue.ReclaimResult, error) {
	staleAfter := m.cfg.StaleAfter()
	if staleAfter <= 0 {
		return queue.ReclaimResult{}, nil
	}
	result, err := m.store.ReclaimStaleProcessing(ctx, m.now().Add(-staleAfter))
	if err != nil {
		m.setLastError(err)
		return result, err
	}
	if total := result.Requeued + result.Failed; total > 0 {
		telemetry.StaleReclaimed.Add(float64(total))
		logging.WarnWithContext(m.logger, "reclaimed stale processing items", "queue_stale_reclaimed",
			logging.Int64("requeued", result.Requeued),
			logging.Int64("failed", result.Failed),
			logging.Duration("stale_after", staleAfter),
			logging.String(logging.FieldErrorHint, "a worker stopped mid-tick; check daemon logs around the last tick"),
		)
	}
	return result, nil
}

// PurgeRetention deletes terminal items older than the retention window.
func (m *Manager) PurgeRetention(ctx context.Context) (int64, error) {
	retention := m.cfg.QueueRetention()
	if retention <= 0 {
		return 0, nil
	}
	purged, err := m.store.PurgeTerminal(ctx, m.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		m.logger.Info("purged terminal queue items",
			logging.Int64("purged", purged),
			logging.Duration("retention", retention),
		)
	}
	return purged, nil
}
