package artifact

import (
	"context"
	"errors"

	"cachegen/internal/logging"
)

type completedItem struct {
	index int
	snap  *snapshot
}

// Bulk applies op to every id independently. One failure does not stop the
// rest unless opts.Abort says so. With opts.RollbackOnFailure, every
// completed item keeps its snapshot until the end and is restored under its
// lock when any item failed.
func (e *Executor) Bulk(ctx context.Context, ids []string, op Operation, opts BulkOptions) BulkResult {
	if ctx == nil {
		ctx = context.Background()
	}
	out := BulkResult{
		Operation: op,
		Total:     len(ids),
		Completed: []string{},
		Failed:    []string{},
		Results:   make([]Result, 0, len(ids)),
	}
	var kept []completedItem

	for i, id := range ids {
		if ctx.Err() != nil {
			out.Aborted = true
			break
		}
		result, snap := e.run(ctx, op, id, opts.RollbackOnFailure)
		out.Results = append(out.Results, result)
		if opts.OnItem != nil {
			opts.OnItem(i, result)
		}
		if result.Success {
			out.Completed = append(out.Completed, id)
			if snap != nil {
				kept = append(kept, completedItem{index: len(out.Results) - 1, snap: snap})
			}
			continue
		}
		out.Failed = append(out.Failed, id)
		if opts.Abort != nil && opts.Abort(result) {
			out.Aborted = true
			break
		}
	}

	if !opts.RollbackOnFailure {
		return out
	}
	if len(out.Failed) == 0 {
		for _, item := range kept {
			_ = item.snap.discard()
		}
		return out
	}

	rollbackCtx := context.WithoutCancel(ctx)
	var rollbackErrs []error
	for i := len(kept) - 1; i >= 0; i-- {
		item := kept[i]
		if err := e.rollbackCompleted(rollbackCtx, item.snap); err != nil {
			rollbackErrs = append(rollbackErrs, err)
			continue
		}
		res := out.Results[item.index]
		res.RolledBack = true
		out.Results[item.index] = res
		e.publish(rollbackCtx, EventRolledBack, res)
	}
	out.RolledBack = len(rollbackErrs) == 0
	if len(rollbackErrs) > 0 {
		logging.ErrorWithContext(e.logger, "bulk rollback incomplete", "artifact_bulk_rollback_failed",
			logging.String("operation", string(op)),
			logging.Error(errors.Join(rollbackErrs...)),
			logging.String(logging.FieldErrorHint, "inspect the listed resources manually"),
		)
	}
	return out
}

// rollbackCompleted restores a completed item under its lock. If another
// operation holds the lock the item is left as is and its backup dropped.
func (e *Executor) rollbackCompleted(ctx context.Context, snap *snapshot) error {
	acquired, err := e.locks.Acquire(ctx, snap.resourceID, e.lockTimeout)
	if err != nil {
		_ = snap.discard()
		return err
	}
	if !acquired {
		_ = snap.discard()
		return errors.New("resource " + snap.resourceID + " locked during bulk rollback")
	}
	defer func() { _ = e.locks.Release(ctx, snap.resourceID) }()
	return e.restore(ctx, snap)
}
