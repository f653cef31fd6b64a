package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"cachegen/internal/sqliteutil"
)

const itemColumns = "id, target_id, target_type, action, priority, status, attempts, max_attempts, payload, error_message, created_at, queued_at, started_at, completed_at, updated_at"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id           int64
		targetID     string
		targetType   sql.NullString
		action       string
		priority     int
		statusStr    string
		attempts     int
		maxAttempts  int
		payload      sql.NullString
		errorMessage sql.NullString
		createdRaw   sql.NullString
		queuedRaw    sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&targetID,
		&targetType,
		&action,
		&priority,
		&statusStr,
		&attempts,
		&maxAttempts,
		&payload,
		&errorMessage,
		&createdRaw,
		&queuedRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:           id,
		TargetID:     targetID,
		TargetType:   targetType.String,
		Action:       Action(action),
		Priority:     priority,
		Status:       Status(statusStr),
		Attempts:     attempts,
		MaxAttempts:  maxAttempts,
		ErrorMessage: errorMessage.String,
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &item.Payload); err != nil {
			return nil, err
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if queued, err := parseTimeString(queuedRaw.String); err == nil {
		item.QueuedAt = queued
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			item.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			item.CompletedAt = &completed
		}
	}
	return item, nil
}

func scanItems(rows *sql.Rows) ([]*Item, error) {
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func encodePayload(payload map[string]string) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func statusArgs(statuses []Status) (string, []any) {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return sqliteutil.MakePlaceholders(len(statuses)), args
}
