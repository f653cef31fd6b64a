package api

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cachegen/internal/lock"
	"cachegen/internal/queue"
	"cachegen/internal/workflow"
)

// FromQueueItem converts a queue record to its API representation.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}
	return QueueItem{
		ID:           item.ID,
		TargetID:     item.TargetID,
		TargetType:   item.TargetType,
		Action:       string(item.Action),
		Priority:     item.Priority,
		Status:       string(item.Status),
		Attempts:     item.Attempts,
		MaxAttempts:  item.MaxAttempts,
		Payload:      item.Payload,
		ErrorMessage: item.ErrorMessage,
		CreatedAt:    formatTime(item.CreatedAt),
		QueuedAt:     formatTime(item.QueuedAt),
		StartedAt:    formatTimePtr(item.StartedAt),
		CompletedAt:  formatTimePtr(item.CompletedAt),
		UpdatedAt:    formatTime(item.UpdatedAt),
	}
}

// FromQueueItems converts a slice of queue records into API DTOs.
func FromQueueItems(items []*queue.Item) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out
}

// ToQueueRequest validates the action and converts the request.
func (r EnqueueRequest) ToQueueRequest() (queue.EnqueueRequest, error) {
	action, err := queue.ParseAction(r.Action)
	if err != nil {
		return queue.EnqueueRequest{}, err
	}
	return queue.EnqueueRequest{
		TargetID:      strings.TrimSpace(r.TargetID),
		TargetType:    strings.TrimSpace(r.TargetType),
		Action:        action,
		Priority:      r.Priority,
		MaxAttempts:   r.MaxAttempts,
		Payload:       r.Payload,
		RaisePriority: r.RaisePriority,
	}, nil
}

// FromBulkReport converts a workflow bulk enqueue report.
func FromBulkReport(report workflow.BulkEnqueueReport) BulkEnqueueResponse {
	resp := BulkEnqueueResponse{
		Created:      report.Created,
		Deduplicated: report.Deduplicated,
		Items:        FromQueueItems(report.Items),
	}
	for _, rej := range report.Rejected {
		resp.Rejected = append(resp.Rejected, RejectedRequest{Index: rej.Index, TargetID: rej.TargetID, Error: rej.Error})
	}
	return resp
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	out := WorkflowStatus{
		QueueStats: MergeQueueStats(summary.Counts),
		Total:      summary.Total,
		LastError:  summary.LastError,
	}
	if summary.LastErrorAt != nil {
		out.LastErrorAt = formatTime(*summary.LastErrorAt)
	}
	if tick := summary.LastTick; tick != nil {
		out.LastTick = &TickSummary{
			StartedAt:       formatTime(tick.StartedAt),
			DurationMS:      tick.Duration.Milliseconds(),
			Skipped:         tick.Skipped,
			Selected:        tick.Selected,
			Processed:       tick.Processed,
			Completed:       tick.Completed,
			Requeued:        tick.Requeued,
			Failed:          tick.Failed,
			Unrecorded:      tick.Unrecorded,
			BudgetExhausted: tick.BudgetExhausted,
		}
	}
	return out
}

// MergeQueueStats keys counts by status string, reporting every known status.
func MergeQueueStats(counts map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = counts[status]
	}
	return out
}

// FromLockRecords converts held locks, ordered by resource id.
func FromLockRecords(records []lock.Record) []LockInfo {
	out := make([]LockInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, LockInfo{
			ResourceID: rec.ResourceID,
			Holder:     rec.Holder,
			AcquiredAt: formatTime(rec.AcquiredAt),
			ExpiresAt:  formatTime(rec.ExpiresAt()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// ParseStatuses converts status strings, ignoring blanks.
func ParseStatuses(values []string) ([]queue.Status, error) {
	var out []queue.Status
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				return nil, fmt.Errorf("unknown status %q", part)
			}
			out = append(out, status)
		}
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
