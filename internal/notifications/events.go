package notifications

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event identifies a notification family.
type Event string

const (
	EventItemFailed     Event = "item_failed"
	EventRollback       Event = "rollback"
	EventBatchCompleted Event = "batch_completed"
	EventQueueStarted   Event = "queue_started"
	EventQueueCompleted Event = "queue_completed"
	EventLocksReleased  Event = "locks_released"
	EventTest           Event = "test"
)

// Payload carries event fields. Values are formatted with fmt when they are
// not strings.
type Payload map[string]any

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) num(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}

func (p Payload) duration(key string) time.Duration {
	if p == nil {
		return 0
	}
	if d, ok := p[key].(time.Duration); ok {
		return d
	}
	return 0
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func format(event Event, p Payload) (message, bool) {
	switch event {
	case EventItemFailed:
		target := p.str("target_id")
		action := p.str("action")
		if action == "" {
			action = "generate"
		}
		body := fmt.Sprintf("❌ %s %s failed", action, target)
		if attempts := p.num("attempts"); attempts > 0 {
			body = fmt.Sprintf("%s after %d attempt(s)", body, attempts)
		}
		if reason := p.str("error"); reason != "" {
			body = fmt.Sprintf("%s: %s", body, reason)
		}
		return message{
			title:    "Cachegen - Item Failed",
			body:     body,
			tags:     []string{"cachegen", "queue", "failed"},
			priority: "high",
		}, true
	case EventRollback:
		body := fmt.Sprintf("↩️ Rolled back %s for %s", p.str("operation"), p.str("resource_id"))
		if reason := p.str("error"); reason != "" {
			body = fmt.Sprintf("%s: %s", body, reason)
		}
		return message{
			title: "Cachegen - Rolled Back",
			body:  body,
			tags:  []string{"cachegen", "artifact", "rollback"},
		}, true
	case EventBatchCompleted:
		failed := p.num("failed")
		title := "Cachegen - Batch Complete"
		if failed > 0 {
			title = "Cachegen - Batch Complete (with errors)"
		}
		return message{
			title: title,
			body: fmt.Sprintf("📦 Batch %s (%s): %d succeeded, %d failed of %d",
				p.str("batch_id"), p.str("operation"), p.num("successful"), failed, p.num("total")),
			tags: []string{"cachegen", "batch", "completed"},
		}, true
	case EventQueueStarted:
		return message{
			title: "Cachegen - Queue Started",
			body:  fmt.Sprintf("Started processing queue with %d items", p.num("count")),
			tags:  []string{"cachegen", "queue", "started"},
		}, true
	case EventQueueCompleted:
		duration := p.duration("duration").Round(time.Second)
		if duration < 0 {
			duration = 0
		}
		processed := p.num("processed")
		failed := p.num("failed")
		if failed == 0 {
			return message{
				title: "Cachegen - Queue Complete",
				body:  fmt.Sprintf("Queue processing complete: %d items processed in %s", processed, duration),
				tags:  []string{"cachegen", "queue", "completed"},
			}, true
		}
		return message{
			title: "Cachegen - Queue Complete (with errors)",
			body:  fmt.Sprintf("Queue processing complete: %d succeeded, %d failed in %s", processed, failed, duration),
			tags:  []string{"cachegen", "queue", "completed"},
		}, true
	case EventLocksReleased:
		return message{
			title: "Cachegen - Locks Released",
			body:  fmt.Sprintf("🔓 Operator force-released %d lock(s)", p.num("count")),
			tags:  []string{"cachegen", "locks", "operator"},
		}, true
	case EventTest:
		return message{
			title:    "Cachegen - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"cachegen", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}
