package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cachegen/internal/services"
)

// Enqueue inserts a pending item unless an active item for the same target
// and action exists, in which case that item is returned with created=false.
// The partial unique index makes the check and insert one atomic statement.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*Item, bool, error) {
	req, err := s.normalizeRequest(req)
	if err != nil {
		return nil, false, err
	}
	payload, err := encodePayload(req.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}

	// An active duplicate can finish between the insert and the lookup, so
	// retry the pair a few times before giving up.
	for attempt := 0; attempt < 3; attempt++ {
		timestamp := s.timestamp()
		res, err := s.execWithRetry(
			ctx,
			`INSERT INTO queue_items (
                target_id, target_type, action, priority, status, attempts, max_attempts,
                payload, created_at, queued_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
            ON CONFLICT DO NOTHING`,
			req.TargetID,
			req.TargetType,
			req.Action,
			req.Priority,
			StatusPending,
			req.MaxAttempts,
			payload,
			timestamp,
			timestamp,
			timestamp,
		)
		if err != nil {
			return nil, false, fmt.Errorf("insert item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			id, err := res.LastInsertId()
			if err != nil {
				return nil, false, fmt.Errorf("last insert id: %w", err)
			}
			item, err := s.GetByID(ctx, id)
			return item, true, err
		}

		existing, err := s.FindActive(ctx, req.TargetID, req.Action)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			continue
		}
		if req.RaisePriority && req.Priority < existing.Priority {
			if err := s.execWithoutResultRetry(
				ctx,
				`UPDATE queue_items SET priority = ?, updated_at = ?
                 WHERE id = ? AND priority > ? AND status IN (?, ?)`,
				req.Priority, s.timestamp(), existing.ID, req.Priority, StatusPending, StatusProcessing,
			); err != nil {
				return nil, false, fmt.Errorf("raise priority: %w", err)
			}
			existing, err = s.GetByID(ctx, existing.ID)
			if err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("enqueue %s/%s: active item changed state repeatedly", req.TargetID, req.Action)
}

func (s *Store) normalizeRequest(req EnqueueRequest) (EnqueueRequest, error) {
	req.TargetID = strings.TrimSpace(req.TargetID)
	if req.TargetID == "" {
		return req, services.Wrap(services.ErrValidation, "queue", "enqueue", "target id is required", nil)
	}
	action, err := ParseAction(string(req.Action))
	if err != nil {
		return req, services.Wrap(services.ErrValidation, "queue", "enqueue", err.Error(), nil)
	}
	req.Action = action
	if action == ActionCustom && strings.TrimSpace(req.Payload["handler"]) == "" {
		return req, services.Wrap(services.ErrValidation, "queue", "enqueue", "custom actions require payload.handler", nil)
	}
	req.TargetType = strings.TrimSpace(req.TargetType)
	if req.TargetType == "" {
		req.TargetType = DefaultTargetType
	}
	if req.Priority == 0 {
		req.Priority = s.defaultPriority
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = s.defaultMaxAttempts
	}
	return req, nil
}

// GetByID fetches a queue item by identifier. A missing item returns nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// FindActive returns the pending or processing item for target and action.
func (s *Store) FindActive(ctx context.Context, targetID string, action Action) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items
         WHERE target_id = ? AND action = ? AND status IN (?, ?)
         LIMIT 1`,
		targetID, action, StatusPending, StatusProcessing,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active item: %w", err)
	}
	return item, nil
}

// List returns queue items filtered by status set (or all items when no
// status is provided) ordered by id.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM queue_items`
	orderClause := ` ORDER BY id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders, args := statusArgs(statuses)
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return scanItems(rows)
}

// NextPending returns up to limit pending items in scheduling order:
// priority ascending, then queue time, then id.
func (s *Store) NextPending(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM queue_items
         WHERE status = ?
         ORDER BY priority ASC, queued_at ASC, id ASC
         LIMIT ?`,
		StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending items: %w", err)
	}
	return scanItems(rows)
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Clear removes items in the given statuses, or every item when none are
// given.
func (s *Store) Clear(ctx context.Context, statuses ...Status) (int64, error) {
	if len(statuses) == 0 {
		res, err := s.execWithRetry(ctx, `DELETE FROM queue_items`)
		if err != nil {
			return 0, fmt.Errorf("clear queue: %w", err)
		}
		return res.RowsAffected()
	}
	placeholders, args := statusArgs(statuses)
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}
