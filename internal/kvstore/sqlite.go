package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cachegen/internal/sqliteutil"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_entries (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at
    ON kv_entries (expires_at) WHERE expires_at IS NOT NULL;
`

// SQLiteStore keeps entries in a single table. Expiry is stored as Unix
// milliseconds and checked on read; PurgeExpired reclaims the rows.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	closed atomic.Bool
}

// SQLiteOption customizes a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSQLite opens (creating when needed) the store database at path.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sqliteutil.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(kvSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv schema: %w", err)
	}
	store := &SQLiteStore{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Path returns the database file backing the store.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *SQLiteStore) expiry(ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return s.nowMillis() + ms
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	ctx = sqliteutil.EnsureContext(ctx)
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.nowMillis() {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if value == nil {
		value = []byte{}
	}
	_, err := sqliteutil.Exec(ctx, s.db,
		`INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiry(ttl),
	)
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// SetNX inserts the key, or overwrites a row whose expiry has passed, in one
// statement. A live row is left untouched and no rows are affected.
func (s *SQLiteStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	if value == nil {
		value = []byte{}
	}
	res, err := sqliteutil.Exec(ctx, s.db,
		`INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
         WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= ?`,
		key, value, s.expiry(ttl), s.nowMillis(),
	)
	if err != nil {
		return false, fmt.Errorf("kv setnx %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv setnx rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := sqliteutil.Exec(ctx, s.db, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	if value == nil {
		value = []byte{}
	}
	res, err := sqliteutil.Exec(ctx, s.db, `DELETE FROM kv_entries WHERE key = ? AND value = ?`, key, value)
	if err != nil {
		return false, fmt.Errorf("kv compare-and-delete %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv compare-and-delete rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ctx = sqliteutil.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, expires_at FROM kv_entries
         WHERE substr(key, 1, ?) = ? AND (expires_at IS NULL OR expires_at > ?)
         ORDER BY key`,
		len(prefix), prefix, s.nowMillis(),
	)
	if err != nil {
		return nil, fmt.Errorf("kv scan %s: %w", prefix, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			expiresAt sql.NullInt64
		)
		if err := rows.Scan(&entry.Key, &entry.Value, &expiresAt); err != nil {
			return nil, fmt.Errorf("kv scan row: %w", err)
		}
		if expiresAt.Valid {
			entry.ExpiresAt = time.UnixMilli(expiresAt.Int64).UTC()
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	res, err := sqliteutil.Exec(ctx, s.db,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("kv purge expired: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil || s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
