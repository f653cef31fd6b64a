package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cachegen/internal/config"
	"cachegen/internal/kvstore"
	"cachegen/internal/lock"
	"cachegen/internal/logging"
	"cachegen/internal/retry"
	"cachegen/internal/services"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the session accepts no further changes.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrClosed is returned when updating a session that already finished.
var ErrClosed = errors.New("progress session closed")

const (
	keyPrefix   = "progress:"
	lockTimeout = 30 * time.Second
)

// lockWait bounds how long a writer waits for another process to finish
// its update of the same session.
var lockWait = retry.Config{
	MaxAttempts:  25,
	InitialDelay: 10 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   2,
	Jitter:       true,
	RetryOn:      []error{services.ErrLockUnavailable},
}

// Key returns the store key for a session id.
func Key(id string) string {
	return keyPrefix + id
}

// Entry is one ring-buffer message.
type Entry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Session is the persisted state of one tracked operation.
type Session struct {
	ID             string     `json:"id"`
	Operation      string     `json:"operation"`
	Total          int        `json:"total"`
	Current        int        `json:"current"`
	Percentage     int        `json:"percentage"`
	Status         Status     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CurrentItem    string     `json:"current_item,omitempty"`
	Messages       []Entry    `json:"messages,omitempty"`
	Errors         []Entry    `json:"errors,omitempty"`
	ItemsPerSecond float64    `json:"items_per_second"`
	ETASeconds     float64    `json:"eta_seconds"`
}

// Tracker manages sessions.
type Tracker struct {
	kv          kvstore.Store
	ttl         time.Duration
	maxMessages int
	maxErrors   int
	now         func() time.Time
	logger      *slog.Logger
	locks       *lock.Manager
	wait        *retry.Executor

	mu sync.Mutex
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the tracker's time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLocks serializes session updates through locks, so trackers in
// different processes sharing the store do not overwrite each other.
func WithLocks(locks *lock.Manager) Option {
	return func(t *Tracker) {
		t.locks = locks
	}
}

// NewTracker builds a tracker over kv using the [progress] settings.
func NewTracker(kv kvstore.Store, cfg config.Progress, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		kv:          kv,
		ttl:         time.Duration(cfg.RetentionHours) * time.Hour,
		maxMessages: cfg.MaxMessages,
		maxErrors:   cfg.MaxErrors,
		now:         time.Now,
		logger:      logging.NewComponentLogger(logger, "progress"),
	}
	if t.maxMessages <= 0 {
		t.maxMessages = 50
	}
	if t.maxErrors <= 0 {
		t.maxErrors = 100
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.locks != nil {
		t.wait = retry.New(lockWait, t.logger)
	}
	return t
}

// Start creates a running session for operation over total items.
func (t *Tracker) Start(ctx context.Context, operation string, total int) (*Session, error) {
	if total < 0 {
		return nil, services.Wrap(services.ErrValidation, "progress", "start", "total must not be negative", nil)
	}
	now := t.now().UTC()
	session := &Session{
		ID:        uuid.NewString(),
		Operation: strings.TrimSpace(operation),
		Total:     total,
		Status:    StatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.save(ctx, session); err != nil {
		return nil, err
	}
	t.logger.Debug("progress session started",
		logging.String(logging.FieldSessionID, session.ID),
		logging.String("operation", session.Operation),
		logging.Int("total", total),
	)
	return session, nil
}

// Update records progress. current is clamped to [stored current, total];
// label becomes the current item and a non-empty message is appended to the
// message buffer.
func (t *Tracker) Update(ctx context.Context, id string, current int, label, message string) (*Session, error) {
	return t.mutate(ctx, id, func(s *Session, now time.Time) {
		if current > s.Total {
			current = s.Total
		}
		if current > s.Current {
			s.Current = current
		}
		if label = strings.TrimSpace(label); label != "" {
			s.CurrentItem = label
		}
		if message = strings.TrimSpace(message); message != "" {
			s.Messages = appendRing(s.Messages, Entry{At: now, Message: message}, t.maxMessages)
		}
		s.recompute(now)
	})
}

// AddError appends to the error buffer.
func (t *Tracker) AddError(ctx context.Context, id, message string) (*Session, error) {
	return t.mutate(ctx, id, func(s *Session, now time.Time) {
		s.Errors = appendRing(s.Errors, Entry{At: now, Message: strings.TrimSpace(message)}, t.maxErrors)
	})
}

// AddMessage appends to the message buffer.
func (t *Tracker) AddMessage(ctx context.Context, id, message string) (*Session, error) {
	return t.mutate(ctx, id, func(s *Session, now time.Time) {
		s.Messages = appendRing(s.Messages, Entry{At: now, Message: strings.TrimSpace(message)}, t.maxMessages)
	})
}

// Complete finalizes the session with a terminal status.
func (t *Tracker) Complete(ctx context.Context, id string, status Status) (*Session, error) {
	if !status.IsTerminal() {
		return nil, services.Wrap(services.ErrValidation, "progress", "complete",
			fmt.Sprintf("status %q is not terminal", status), nil)
	}
	session, err := t.mutate(ctx, id, func(s *Session, now time.Time) {
		s.Status = status
		completed := now
		s.CompletedAt = &completed
		s.recompute(now)
	})
	if err == nil {
		t.logger.Debug("progress session finished",
			logging.String(logging.FieldSessionID, id),
			logging.String("status", string(status)),
			logging.Int("current", session.Current),
			logging.Int("total", session.Total),
		)
	}
	return session, err
}

// Cancel marks the session cancelled.
func (t *Tracker) Cancel(ctx context.Context, id string) (*Session, error) {
	return t.Complete(ctx, id, StatusCancelled)
}

// Get loads a session.
func (t *Tracker) Get(ctx context.Context, id string) (*Session, error) {
	data, ok, err := t.kv.Get(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("load progress session: %w", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "progress", "get", id, nil)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode progress session %s: %w", id, err)
	}
	return &session, nil
}

// List returns every live session, newest first.
func (t *Tracker) List(ctx context.Context) ([]Session, error) {
	entries, err := t.kv.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan progress sessions: %w", err)
	}
	sessions := make([]Session, 0, len(entries))
	for _, entry := range entries {
		var session Session
		if err := json.Unmarshal(entry.Value, &session); err != nil {
			t.logger.Debug("skip undecodable progress session", logging.String("key", entry.Key), logging.Error(err))
			continue
		}
		sessions = append(sessions, session)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (t *Tracker) mutate(ctx context.Context, id string, fn func(*Session, time.Time)) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		return t.apply(ctx, id, fn)
	}

	var (
		session  *Session
		applyErr error
	)
	err := t.wait.Do(ctx, func(ctx context.Context) error {
		return t.locks.WithLock(ctx, Key(id), lockTimeout, func(ctx context.Context) error {
			session, applyErr = t.apply(ctx, id, fn)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("lock progress session %s: %w", id, err)
	}
	return session, applyErr
}

// apply is one read-modify-write of the stored session.
func (t *Tracker) apply(ctx context.Context, id string, fn func(*Session, time.Time)) (*Session, error) {
	session, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return session, fmt.Errorf("%w: %s is %s", ErrClosed, id, session.Status)
	}
	now := t.now().UTC()
	fn(session, now)
	session.UpdatedAt = now
	if err := t.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (t *Tracker) save(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode progress session: %w", err)
	}
	if err := t.kv.Set(ctx, Key(session.ID), data, t.ttl); err != nil {
		return fmt.Errorf("store progress session: %w", err)
	}
	return nil
}

func (s *Session) recompute(now time.Time) {
	if s.Total > 0 {
		pct := int(math.Round(float64(s.Current) / float64(s.Total) * 100))
		if pct > s.Percentage {
			s.Percentage = pct
		}
	}
	if s.Current <= 0 {
		return
	}
	elapsed := now.Sub(s.StartedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	s.ItemsPerSecond = float64(s.Current) / elapsed
	if s.ItemsPerSecond > 0 {
		s.ETASeconds = float64(s.Total-s.Current) / s.ItemsPerSecond
	}
}

func appendRing(buf []Entry, entry Entry, limit int) []Entry {
	buf = append(buf, entry)
	if len(buf) > limit {
		buf = append([]Entry(nil), buf[len(buf)-limit:]...)
	}
	return buf
}
