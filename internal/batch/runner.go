package batch

import (
	"context"
	"fmt"

	"cachegen/internal/artifact"
	"cachegen/internal/queue"
	"cachegen/internal/workflow"
)

// Outcome is the per-item result of a chunk.
type Outcome struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Runner executes the items of one chunk.
type Runner interface {
	// Validate rejects operations the runner cannot perform.
	Validate(operation string) error
	// Run returns one outcome per id. A non-nil error means the chunk could
	// not be attempted and should be retried by the caller.
	Run(ctx context.Context, operation string, ids []string) ([]Outcome, error)
}

// BulkExecutor is the slice of the artifact executor DirectRunner needs.
type BulkExecutor interface {
	Bulk(ctx context.Context, ids []string, op artifact.Operation, opts artifact.BulkOptions) artifact.BulkResult
}

// DirectRunner applies each chunk synchronously through the executor.
type DirectRunner struct {
	exec BulkExecutor
}

// NewDirectRunner wraps exec.
func NewDirectRunner(exec BulkExecutor) *DirectRunner {
	return &DirectRunner{exec: exec}
}

func (r *DirectRunner) Validate(operation string) error {
	_, err := artifact.ParseOperation(operation)
	return err
}

func (r *DirectRunner) Run(ctx context.Context, operation string, ids []string) ([]Outcome, error) {
	op, err := artifact.ParseOperation(operation)
	if err != nil {
		return nil, err
	}
	res := r.exec.Bulk(ctx, ids, op, artifact.BulkOptions{})
	outcomes := make([]Outcome, 0, len(res.Results))
	for _, result := range res.Results {
		outcomes = append(outcomes, Outcome{ID: result.ResourceID, Success: result.Success, Error: result.Error})
	}
	if len(outcomes) < len(ids) {
		return nil, fmt.Errorf("chunk interrupted after %d of %d items: %w", len(outcomes), len(ids), ctx.Err())
	}
	return outcomes, nil
}

// Enqueuer is the slice of the queue manager QueueRunner needs.
type Enqueuer interface {
	EnqueueBulk(ctx context.Context, reqs []queue.EnqueueRequest) (workflow.BulkEnqueueReport, error)
}

// QueueRunner hands each chunk to the work queue. An item counts as
// successful once it is queued; the queue tick does the actual work.
type QueueRunner struct {
	queue    Enqueuer
	priority int
}

// NewQueueRunner wraps q. A zero priority uses the queue default.
func NewQueueRunner(q Enqueuer, priority int) *QueueRunner {
	return &QueueRunner{queue: q, priority: priority}
}

func (r *QueueRunner) Validate(operation string) error {
	_, err := queueAction(operation)
	return err
}

func (r *QueueRunner) Run(ctx context.Context, operation string, ids []string) ([]Outcome, error) {
	action, err := queueAction(operation)
	if err != nil {
		return nil, err
	}
	reqs := make([]queue.EnqueueRequest, len(ids))
	for i, id := range ids {
		reqs[i] = queue.EnqueueRequest{TargetID: id, Action: action, Priority: r.priority}
	}
	report, err := r.queue.EnqueueBulk(ctx, reqs)
	if err != nil {
		return nil, err
	}
	rejected := make(map[int]string, len(report.Rejected))
	for _, rej := range report.Rejected {
		rejected[rej.Index] = rej.Error
	}
	outcomes := make([]Outcome, len(ids))
	for i, id := range ids {
		if msg, ok := rejected[i]; ok {
			outcomes[i] = Outcome{ID: id, Error: msg}
			continue
		}
		outcomes[i] = Outcome{ID: id, Success: true}
	}
	return outcomes, nil
}

func queueAction(operation string) (queue.Action, error) {
	switch queue.Action(operation) {
	case queue.ActionGenerate, queue.ActionRegenerate, queue.ActionDelete:
		return queue.Action(operation), nil
	default:
		return "", fmt.Errorf("unknown batch operation %q", operation)
	}
}
