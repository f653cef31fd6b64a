package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cachegen/internal/sqliteutil"
)

// MarkProcessing claims a pending item, incrementing attempts. It reports
// false when the item was no longer pending or had no attempts left.
func (s *Store) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	now := s.timestamp()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, attempts = attempts + 1, started_at = ?, completed_at = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND attempts < max_attempts`,
		StatusProcessing, now, now, id, StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkCompleted moves a processing item to completed.
func (s *Store) MarkCompleted(ctx context.Context, id int64) error {
	now := s.timestamp()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, completed_at = ?, error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted, now, now, id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	return requireTransition(res, id, StatusProcessing)
}

// MarkAttemptFailed records a failed attempt. The item returns to pending at
// the back of its priority band when attempts remain, otherwise it fails.
// The resulting status is returned.
func (s *Store) MarkAttemptFailed(ctx context.Context, id int64, message string) (Status, error) {
	now := s.timestamp()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = CASE WHEN attempts < max_attempts THEN ? ELSE ? END,
             queued_at = CASE WHEN attempts < max_attempts THEN ? ELSE queued_at END,
             completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE ? END,
             error_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusPending, StatusFailed, now, now, nullableString(message), now, id, StatusProcessing,
	)
	if err != nil {
		return "", fmt.Errorf("record failed attempt: %w", err)
	}
	if err := requireTransition(res, id, StatusProcessing); err != nil {
		return "", err
	}
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", fmt.Errorf("item %d vanished after failed attempt", id)
	}
	return item.Status, nil
}

// MarkFailed fails a processing item regardless of remaining attempts.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	now := s.timestamp()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_items
         SET status = ?, completed_at = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed, now, nullableString(message), now, id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("fail item: %w", err)
	}
	return requireTransition(res, id, StatusProcessing)
}

// ReclaimStaleProcessing handles items whose processing started before
// cutoff: those with attempts left go back to pending, the rest fail.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (ReclaimResult, error) {
	var result ReclaimResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin reclaim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.timestamp()
	cutoffStr := formatTime(cutoff)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE queue_items
         SET status = ?, queued_at = ?, started_at = NULL, updated_at = ?,
             error_message = 'Reclaimed from stale processing'
         WHERE status = ? AND started_at IS NOT NULL AND started_at < ? AND attempts < max_attempts`,
		StatusPending, now, now, StatusProcessing, cutoffStr,
	)
	if err != nil {
		return result, fmt.Errorf("requeue stale items: %w", err)
	}
	if result.Requeued, err = res.RowsAffected(); err != nil {
		return result, err
	}

	res, err = tx.ExecContext(
		ctx,
		`UPDATE queue_items
         SET status = ?, completed_at = ?, updated_at = ?, error_message = ?
         WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		StatusFailed, now, now, StaleReason, StatusProcessing, cutoffStr,
	)
	if err != nil {
		return result, fmt.Errorf("fail stale items: %w", err)
	}
	if result.Failed, err = res.RowsAffected(); err != nil {
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit reclaim: %w", err)
	}
	return result, nil
}

// RetryFailed moves failed items back to pending with a fresh attempt budget.
// With no ids every failed item is retried. Items whose target already has
// another active item for the same action are skipped.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := s.timestamp()
	query := `UPDATE OR IGNORE queue_items
        SET status = ?, attempts = 0, error_message = NULL, queued_at = ?,
            started_at = NULL, completed_at = NULL, updated_at = ?
        WHERE status = ?`
	args := []any{StatusPending, now, now, StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + sqliteutil.MakePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	return res.RowsAffected()
}

// PurgeTerminal deletes completed and failed items that finished before
// the given time.
func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM queue_items
         WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted, StatusFailed, formatTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("purge terminal items: %w", err)
	}
	return res.RowsAffected()
}

// ErrInvalidTransition is wrapped by transitions applied to an item that is
// not in the expected state.
var ErrInvalidTransition = errors.New("invalid queue transition")

func requireTransition(res interface{ RowsAffected() (int64, error) }, id int64, from Status) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: item %d is not %s", ErrInvalidTransition, id, from)
	}
	return nil
}
