package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cachegen/internal/config"
	"cachegen/internal/sqliteutil"
)

// Store manages queue persistence backed by SQLite.
type Store struct {
	db                 *sql.DB
	path               string
	defaultPriority    int
	defaultMaxAttempts int
	now                func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return sqliteutil.Exec(ctx, s.db, query, args...)
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	_, err := sqliteutil.Exec(ctx, s.db, query, args...)
	return err
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

// Open initializes or connects to the queue database.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.QueueDBPath()
	db, err := sqliteutil.Open(dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{
		db:                 db,
		path:               dbPath,
		defaultPriority:    cfg.Queue.DefaultPriority,
		defaultMaxAttempts: cfg.Queue.MaxAttempts,
		now:                time.Now,
	}
	if store.defaultMaxAttempts < 1 {
		store.defaultMaxAttempts = 1
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
