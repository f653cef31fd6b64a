package queue

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StaleReason is recorded on items failed by the stale-processing sweep.
const StaleReason = "processing abandoned: worker did not finish before the stale threshold"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus normalizes user input into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// IsTerminal reports whether the status ends the item's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Action names the work an item asks for.
type Action string

const (
	ActionGenerate   Action = "generate"
	ActionRegenerate Action = "regenerate"
	ActionDelete     Action = "delete"
	ActionCustom     Action = "custom"
)

// ParseAction validates an action name.
func ParseAction(value string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(value)))
	switch action {
	case ActionGenerate, ActionRegenerate, ActionDelete, ActionCustom:
		return action, nil
	default:
		return "", fmt.Errorf("unknown action %q (expected generate, regenerate, delete or custom)", value)
	}
}

// DefaultTargetType is used when a request leaves TargetType empty.
const DefaultTargetType = "post"

// EnqueueRequest describes work to add. Zero Priority and MaxAttempts take
// the store defaults; lower priority values run first.
type EnqueueRequest struct {
	TargetID    string            `json:"target_id"`
	TargetType  string            `json:"target_type,omitempty"`
	Action      Action            `json:"action"`
	Priority    int               `json:"priority,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
	// RaisePriority lowers the stored priority of an existing active item
	// when this request is more urgent.
	RaisePriority bool `json:"raise_priority,omitempty"`
}

// Item represents a queue item persisted in SQLite.
type Item struct {
	ID           int64             `json:"id"`
	TargetID     string            `json:"target_id"`
	TargetType   string            `json:"target_type"`
	Action       Action            `json:"action"`
	Priority     int               `json:"priority"`
	Status       Status            `json:"status"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	Payload      map[string]string `json:"payload,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	QueuedAt     time.Time         `json:"queued_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// AttemptsRemaining reports whether another attempt is allowed.
func (i *Item) AttemptsRemaining() bool {
	return i.Attempts < i.MaxAttempts
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    int      `json:"schema_version"`
	TableExists      bool     `json:"table_exists"`
	ColumnsPresent   []string `json:"columns_present,omitempty"`
	MissingColumns   []string `json:"missing_columns,omitempty"`
	IntegrityCheck   bool     `json:"integrity_check"`
	TotalItems       int      `json:"total_items"`
	Error            string   `json:"error,omitempty"`
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
}

// ReclaimResult counts the outcome of a stale-processing sweep.
type ReclaimResult struct {
	Requeued int64 `json:"requeued"`
	Failed   int64 `json:"failed"`
}
