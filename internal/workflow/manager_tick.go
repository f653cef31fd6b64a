package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cachegen/internal/artifact"
	"cachegen/internal/logging"
	"cachegen/internal/queue"
	"cachegen/internal/services"
	"cachegen/internal/telemetry"
)

// TickItem records what a tick did with one item.
type TickItem struct {
	ID       int64        `json:"id"`
	TargetID string       `json:"target_id"`
	Action   queue.Action `json:"action"`
	Status   queue.Status `json:"status"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}

// TickReport summarizes one Tick.
type TickReport struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
	Skipped         bool          `json:"skipped"`
	Selected        int           `json:"selected"`
	Processed       int           `json:"processed"`
	Completed       int           `json:"completed"`
	Requeued        int           `json:"requeued"`
	Failed          int           `json:"failed"`
	Unrecorded      int           `json:"unrecorded"`
	BudgetExhausted bool          `json:"budget_exhausted"`
	Items           []TickItem    `json:"items,omitempty"`
}

func (m *Manager) tickBudget() time.Duration {
	budget := m.cfg.TimeBudget()
	if budget <= 0 {
		budget = m.cfg.TickInterval()
	}
	if budget <= 0 {
		budget = time.Minute
	}
	return budget
}

// Tick runs one bounded scheduling pass. Items are claimed before they are
// executed, in priority then queue-time order, until the batch size or the
// time budget is reached. A tick already running anywhere sharing the store
// yields a report with Skipped set.
func (m *Manager) Tick(ctx context.Context) (TickReport, error) {
	start := m.now()
	report := TickReport{StartedAt: start}
	budget := m.tickBudget()

	acquired, err := m.locks.Acquire(ctx, TickLockID, budget)
	if err != nil {
		m.setLastError(err)
		telemetry.TicksTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("acquire tick guard: %w", err)
	}
	if !acquired {
		report.Skipped = true
		telemetry.TicksTotal.WithLabelValues("skipped").Inc()
		m.logger.Debug("tick skipped; another tick is running")
		return report, nil
	}
	defer func() {
		if releaseErr := m.locks.Release(context.WithoutCancel(ctx), TickLockID); releaseErr != nil {
			m.logger.Warn("tick guard release failed",
				logging.Error(releaseErr),
				logging.String(logging.FieldEventType, "tick_release_failed"),
				logging.String(logging.FieldErrorHint, "the guard expires after the tick budget"),
				logging.String(logging.FieldImpact, "next tick may be skipped"),
			)
		}
	}()

	items, err := m.store.NextPending(ctx, m.cfg.Queue.BatchSize)
	if err != nil {
		m.setLastError(err)
		telemetry.TicksTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("select pending items: %w", err)
	}
	report.Selected = len(items)
	if len(items) > 0 {
		m.onQueueActive(ctx)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if m.now().Sub(start) >= budget {
			report.BudgetExhausted = true
			m.logger.Info("tick budget exhausted; remaining items deferred",
				logging.Int("remaining", report.Selected-report.Processed),
				logging.Duration("budget", budget),
			)
			break
		}
		outcome, ok := m.processItem(ctx, item)
		if !ok {
			continue
		}
		report.Processed++
		switch outcome.Status {
		case queue.StatusCompleted:
			report.Completed++
		case queue.StatusPending:
			report.Requeued++
		case queue.StatusFailed:
			report.Failed++
		case queue.StatusProcessing:
			report.Unrecorded++
		}
		report.Items = append(report.Items, outcome)
	}

	report.Duration = m.now().Sub(start)
	m.recordTick(report)
	m.refreshDepth(ctx)
	m.checkQueueCompletion(ctx)
	telemetry.TicksTotal.WithLabelValues("ran").Inc()
	if report.Processed > 0 {
		m.logger.Info("tick finished",
			logging.Int("processed", report.Processed),
			logging.Int("completed", report.Completed),
			logging.Int("requeued", report.Requeued),
			logging.Int("failed", report.Failed),
			logging.Int("unrecorded", report.Unrecorded),
			logging.Duration("duration", report.Duration),
			logging.String(logging.FieldEventType, "tick_complete"),
		)
	}
	return report, ctx.Err()
}

// processItem claims and runs one item. It returns false when the item was
// claimed elsewhere first.
func (m *Manager) processItem(ctx context.Context, item *queue.Item) (TickItem, bool) {
	itemCtx := withItemContext(ctx, item, uuid.NewString())
	logger := logging.WithContext(itemCtx, m.logger)

	claimed, err := m.store.MarkProcessing(itemCtx, item.ID)
	if err != nil {
		m.setLastError(err)
		logger.Error("claim item failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_claim_failed"),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return TickItem{}, false
	}
	if !claimed {
		logger.Debug("item already claimed")
		return TickItem{}, false
	}
	attempts := item.Attempts + 1
	outcome := TickItem{ID: item.ID, TargetID: item.TargetID, Action: item.Action, Attempts: attempts}

	runErr := m.dispatch(itemCtx, item)
	if runErr == nil {
		if err := m.store.MarkCompleted(itemCtx, item.ID); err != nil {
			m.setLastError(err)
			logger.Error("persist completion failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_complete_persist_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "item stays processing until the stale sweep reclaims it"),
			)
			outcome.Status = queue.StatusProcessing
			outcome.Error = err.Error()
			return outcome, true
		}
		telemetry.QueueCompleted.Inc()
		outcome.Status = queue.StatusCompleted
		logger.Debug("item completed", logging.Int("attempts", attempts))
		return outcome, true
	}

	message := runErr.Error()
	outcome.Error = message
	m.setLastError(runErr)

	if services.IsTerminal(runErr) {
		if err := m.store.MarkFailed(itemCtx, item.ID, message); err != nil {
			logger.Error("persist failure failed", logging.Error(err))
		}
		outcome.Status = queue.StatusFailed
	} else {
		status, err := m.store.MarkAttemptFailed(itemCtx, item.ID, message)
		if err != nil {
			logger.Error("persist attempt failure failed", logging.Error(err))
			status = queue.StatusProcessing
		}
		outcome.Status = status
	}

	// StatusProcessing here means the attempt could not be persisted.
	switch outcome.Status {
	case queue.StatusFailed:
		telemetry.QueueFailed.Inc()
		m.logTerminalFailure(logger, item, attempts, runErr)
		m.notifyItemFailed(itemCtx, item, attempts, message)
	case queue.StatusPending:
		telemetry.QueueRetries.Inc()
		logger.Info("item attempt failed; requeued",
			logging.Int("attempts", attempts),
			logging.Int("max_attempts", item.MaxAttempts),
			logging.String(logging.FieldErrorKind, services.Kind(runErr)),
			logging.Error(runErr),
		)
	}
	return outcome, true
}

func (m *Manager) logTerminalFailure(logger *slog.Logger, item *queue.Item, attempts int, err error) {
	logger.Error("item failed",
		logging.String(logging.FieldResourceID, item.TargetID),
		logging.String("action", string(item.Action)),
		logging.Int("attempts", attempts),
		logging.Int("max_attempts", item.MaxAttempts),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.Error(err),
		logging.Alert("item_failure"),
		logging.String(logging.FieldEventType, "queue_item_failed"),
		logging.String(logging.FieldErrorHint, "fix the cause and run cachegen queue retry"),
	)
}

// dispatch runs the item's action. Executor results are converted back to
// errors so the caller can classify them.
func (m *Manager) dispatch(ctx context.Context, item *queue.Item) error {
	switch item.Action {
	case queue.ActionGenerate, queue.ActionRegenerate:
		return resultError(m.ops.Generate(ctx, item.TargetID))
	case queue.ActionDelete:
		err := resultError(m.ops.Delete(ctx, item.TargetID))
		if errors.Is(err, services.ErrNotFound) {
			// Nothing to remove is the state delete asks for.
			return nil
		}
		return err
	case queue.ActionCustom:
		name := item.Payload["handler"]
		handler, ok := m.handler(name)
		if !ok {
			return services.Wrap(services.ErrConfiguration, "workflow", "dispatch",
				fmt.Sprintf("no handler registered for %q", name), nil)
		}
		return runHandler(ctx, handler, item)
	default:
		return services.Wrap(services.ErrValidation, "workflow", "dispatch",
			fmt.Sprintf("unsupported action %q", item.Action), nil)
	}
}

func runHandler(ctx context.Context, handler CustomHandler, item *queue.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("custom handler panic: %v", r)
		}
	}()
	return handler(ctx, item)
}

func resultError(res artifact.Result) error {
	if res.Success {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Error)
}

func (m *Manager) refreshDepth(ctx context.Context) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return
	}
	counts := make(map[string]int, len(stats))
	for _, status := range queue.AllStatuses() {
		counts[string(status)] = stats[status]
	}
	telemetry.SetQueueDepth(counts)
}
