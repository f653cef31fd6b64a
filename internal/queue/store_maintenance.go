package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// expectedColumns is the queue_items layout for the current schema version.
var expectedColumns = []string{
	"id", "target_id", "target_type", "action", "priority", "status",
	"attempts", "max_attempts", "payload", "error_message",
	"created_at", "queued_at", "started_at", "completed_at", "updated_at",
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health returns per-state counts in a single pass.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	var h HealthSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(status = ?), 0)
		FROM queue_items`,
		StatusPending, StatusProcessing, StatusFailed, StatusCompleted,
	).Scan(&h.Total, &h.Pending, &h.Processing, &h.Failed, &h.Completed)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("queue health: %w", err)
	}
	return h, nil
}

// CheckHealth inspects the database file, the queue_items layout and SQLite
// integrity. The returned DatabaseHealth is populated as far as the checks
// got, even when an error is returned.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path, SchemaVersion: schemaVersion}
	fail := func(step string, err error) (DatabaseHealth, error) {
		health.Error = err.Error()
		return health, fmt.Errorf("%s: %w", step, err)
	}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return health, nil
	case err != nil:
		return fail("stat queue database", err)
	case info.IsDir():
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(checkCtx); err != nil {
		return fail("ping queue database", err)
	}
	health.DatabaseReadable = true

	rows, err := s.db.QueryContext(checkCtx, `SELECT name FROM pragma_table_info('queue_items')`)
	if err != nil {
		return fail("table info", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fail("scan table info", err)
		}
		health.ColumnsPresent = append(health.ColumnsPresent, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fail("iterate table info", err)
	}

	health.TableExists = len(health.ColumnsPresent) > 0
	if health.TableExists {
		for _, col := range expectedColumns {
			if !slices.Contains(health.ColumnsPresent, col) {
				health.MissingColumns = append(health.MissingColumns, col)
			}
		}
		if err := s.db.QueryRowContext(checkCtx, `SELECT COUNT(1) FROM queue_items`).Scan(&health.TotalItems); err != nil {
			return fail("count queue items", err)
		}
	}

	var integrity string
	if err := s.db.QueryRowContext(checkCtx, `PRAGMA integrity_check`).Scan(&integrity); err != nil {
		return fail("integrity check", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
