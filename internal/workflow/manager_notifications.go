package workflow

import (
	"context"
	"errors"
	"time"

	"cachegen/internal/logging"
	"cachegen/internal/notifications"
	"cachegen/internal/queue"
)

// publish delivers an event on a best-effort basis; delivery failures are
// logged at debug level and never affect queue processing.
func (m *Manager) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	err := m.notifier.Publish(ctx, event, payload)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		m.logger.Debug("context cancelled, notification dropped", logging.String(logging.FieldEventType, string(event)))
	default:
		logging.WithContext(ctx, m.logger).Debug("notification failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err),
		)
	}
}

func (m *Manager) notifyItemFailed(ctx context.Context, item *queue.Item, attempts int, message string) {
	m.publish(ctx, notifications.EventItemFailed, notifications.Payload{
		"item_id":   item.ID,
		"target_id": item.TargetID,
		"action":    string(item.Action),
		"attempts":  attempts,
		"error":     message,
	})
}

// activeStats returns queue counts and the number of pending or processing
// items. ok is false when the counts could not be read.
func (m *Manager) activeStats(ctx context.Context, purpose string) (map[queue.Status]int, int, bool) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(m.logger, "queue stats unavailable; notification skipped", "queue_stats_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, purpose+" notification will not be sent"),
			)
		}
		return nil, 0, false
	}
	return stats, stats[queue.StatusPending] + stats[queue.StatusProcessing], true
}

// onQueueActive sends queue_started the first time work is seen after the
// queue was idle.
func (m *Manager) onQueueActive(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	_, active, ok := m.activeStats(ctx, "start")
	if !ok {
		return
	}
	m.mu.Lock()
	if m.queueActive {
		m.mu.Unlock()
		return
	}
	m.queueActive = true
	m.queueStart = m.now()
	m.mu.Unlock()

	m.publish(ctx, notifications.EventQueueStarted, notifications.Payload{"count": active})
}

// checkQueueCompletion sends queue_completed once an active queue drains.
func (m *Manager) checkQueueCompletion(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	stats, active, ok := m.activeStats(ctx, "completion")
	if !ok || active > 0 {
		return
	}

	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	start := m.queueStart
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = m.now().Sub(start)
	}
	m.publish(ctx, notifications.EventQueueCompleted, notifications.Payload{
		"processed": stats[queue.StatusCompleted],
		"failed":    stats[queue.StatusFailed],
		"duration":  elapsed,
	})
}
