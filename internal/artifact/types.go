package artifact

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Producer renders artifact content for a resource.
type Producer interface {
	Capture(ctx context.Context, resourceID string) ([]byte, error)
	Transform(ctx context.Context, content []byte, resourceID string) ([]byte, error)
}

// ShouldGenerateFunc decides whether a resource deserves an artifact at all.
// Returning false turns Generate into a successful no-op.
type ShouldGenerateFunc func(ctx context.Context, resourceID string) bool

// Operation names a mutating executor operation.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpDelete   Operation = "delete"
)

// ParseOperation accepts generate, regenerate and delete.
func ParseOperation(value string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "generate", "regenerate":
		return OpGenerate, nil
	case "delete":
		return OpDelete, nil
	default:
		return "", fmt.Errorf("unknown artifact operation %q", value)
	}
}

// Result is the outcome of one Generate or Delete call. The executor never
// returns errors for per-resource failures; they are reported here.
type Result struct {
	ResourceID  string        `json:"resource_id"`
	Operation   Operation     `json:"operation"`
	Success     bool          `json:"success"`
	Skipped     bool          `json:"skipped,omitempty"`
	Path        string        `json:"path,omitempty"`
	Size        int64         `json:"size,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Code        string        `json:"code,omitempty"`
	Error       string        `json:"error,omitempty"`
	RolledBack  bool          `json:"rolled_back,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	Err         error         `json:"-"`
}

// BulkOptions controls Bulk.
type BulkOptions struct {
	// Abort is consulted after every failed item; returning true stops the
	// remaining items from being attempted.
	Abort func(Result) bool
	// RollbackOnFailure restores every completed item when any item fails.
	RollbackOnFailure bool
	// OnItem observes each result as it is produced.
	OnItem func(index int, result Result)
}

// BulkResult summarizes a Bulk call.
type BulkResult struct {
	Operation  Operation `json:"operation"`
	Total      int       `json:"total"`
	Completed  []string  `json:"completed"`
	Failed     []string  `json:"failed"`
	Results    []Result  `json:"results"`
	Aborted    bool      `json:"aborted,omitempty"`
	RolledBack bool      `json:"rolled_back,omitempty"`
}

// CompletedCount returns the number of successful items.
func (r BulkResult) CompletedCount() int { return len(r.Completed) }

// FailedCount returns the number of failed items.
func (r BulkResult) FailedCount() int { return len(r.Failed) }

// EventType identifies an executor event.
type EventType string

const (
	EventGenerated  EventType = "generated"
	EventDeleted    EventType = "deleted"
	EventFailed     EventType = "failed"
	EventRolledBack EventType = "rolled_back"
	EventSkipped    EventType = "skipped"
)

// Event is delivered to subscribers after an operation settles.
type Event struct {
	Type       EventType
	ResourceID string
	Operation  Operation
	Result     Result
}

// Subscriber receives executor events. Implementations must not block.
type Subscriber interface {
	HandleArtifactEvent(ctx context.Context, event Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, event Event)

func (f SubscriberFunc) HandleArtifactEvent(ctx context.Context, event Event) {
	f(ctx, event)
}
