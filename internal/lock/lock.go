// Package lock provides per-resource mutual exclusion on top of the shared
// key/value store. A lock is a record under "lock:<resource>" created with an
// atomic create-if-absent whose TTL equals the lock timeout, so an expired
// lock is indistinguishable from an absent one.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"cachegen/internal/kvstore"
	"cachegen/internal/logging"
	"cachegen/internal/services"
)

const keyPrefix = "lock:"

// Record is the persisted lock body.
type Record struct {
	ResourceID     string    `json:"resource_id"`
	Holder         string    `json:"holder"`
	AcquiredAt     time.Time `json:"acquired_at"`
	TimeoutSeconds float64   `json:"timeout_seconds"`
}

// Timeout returns the lock lifetime.
func (r Record) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds * float64(time.Second))
}

// ExpiresAt returns the instant the lock stops being valid.
func (r Record) ExpiresAt() time.Time {
	return r.AcquiredAt.Add(r.Timeout())
}

// Expired reports whether the lock is no longer valid at now.
func (r Record) Expired(now time.Time) bool {
	return now.Sub(r.AcquiredAt) >= r.Timeout()
}

// Key returns the store key for resourceID.
func Key(resourceID string) string {
	return keyPrefix + resourceID
}

// Manager acquires and inspects locks for one process.
type Manager struct {
	store          kvstore.Store
	holder         string
	defaultTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source used to stamp and age records.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithHolder overrides the holder identity written into records.
func WithHolder(holder string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(holder) != "" {
			m.holder = holder
		}
	}
}

// NewManager constructs a manager. defaultTimeout applies when callers pass a
// non-positive timeout.
func NewManager(store kvstore.Store, defaultTimeout time.Duration, logger *slog.Logger, opts ...Option) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	m := &Manager{
		store:          store,
		holder:         defaultHolder(),
		defaultTimeout: defaultTimeout,
		now:            time.Now,
		logger:         logging.NewComponentLogger(logger, "lock"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

// Holder returns this manager's identity.
func (m *Manager) Holder() string {
	return m.holder
}

// DefaultTimeout returns the timeout used when callers pass zero.
func (m *Manager) DefaultTimeout() time.Duration {
	return m.defaultTimeout
}

// Acquire attempts to take the lock for resourceID. It returns false without
// an error when another valid lock exists.
func (m *Manager) Acquire(ctx context.Context, resourceID string, timeout time.Duration) (bool, error) {
	if strings.TrimSpace(resourceID) == "" {
		return false, services.Wrap(services.ErrValidation, "lock", "acquire", "resource id is required", nil)
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	record := Record{
		ResourceID:     resourceID,
		Holder:         m.holder,
		AcquiredAt:     m.now().UTC(),
		TimeoutSeconds: timeout.Seconds(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("encode lock record: %w", err)
	}
	ok, err := m.store.SetNX(ctx, Key(resourceID), payload, timeout)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", resourceID, err)
	}
	if ok {
		m.logger.Debug("lock acquired", logging.String(logging.FieldResourceID, resourceID))
	}
	return ok, nil
}

// Release deletes the lock unconditionally. Releasing a free lock succeeds.
func (m *Manager) Release(ctx context.Context, resourceID string) error {
	if err := m.store.Delete(ctx, Key(resourceID)); err != nil {
		return fmt.Errorf("release lock %s: %w", resourceID, err)
	}
	return nil
}

// Get returns the live record for resourceID, or nil when unlocked.
func (m *Manager) Get(ctx context.Context, resourceID string) (*Record, error) {
	raw, ok, err := m.store.Get(ctx, Key(resourceID))
	if err != nil {
		return nil, fmt.Errorf("read lock %s: %w", resourceID, err)
	}
	if !ok {
		return nil, nil
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode lock %s: %w", resourceID, err)
	}
	if record.Expired(m.now()) {
		return nil, nil
	}
	return &record, nil
}

// IsLocked reports whether a valid lock exists for resourceID.
func (m *Manager) IsLocked(ctx context.Context, resourceID string) (bool, error) {
	record, err := m.Get(ctx, resourceID)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// List returns all live lock records ordered by resource id.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	entries, err := m.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	now := m.now()
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		var record Record
		if err := json.Unmarshal(entry.Value, &record); err != nil {
			m.logger.Debug("skipping undecodable lock record", logging.String("key", entry.Key), logging.Error(err))
			continue
		}
		if record.Expired(now) {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// CleanupExpired removes lock records older than maxAge, plus any rows the
// backend already considers expired. A non-positive maxAge uses each record's
// own timeout. Records are removed with compare-and-delete so a lock that was
// re-acquired after the scan survives.
func (m *Manager) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := m.store.Scan(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan locks: %w", err)
	}
	now := m.now()
	removed := 0
	for _, entry := range entries {
		var record Record
		stale := false
		if err := json.Unmarshal(entry.Value, &record); err != nil {
			stale = true
		} else if maxAge > 0 {
			stale = now.Sub(record.AcquiredAt) > maxAge
		} else {
			stale = record.Expired(now)
		}
		if !stale {
			continue
		}
		ok, err := m.store.CompareAndDelete(ctx, entry.Key, entry.Value)
		if err != nil {
			return removed, fmt.Errorf("remove stale lock %s: %w", entry.Key, err)
		}
		if ok {
			removed++
			m.logger.Info("removed stale lock",
				logging.String(logging.FieldResourceID, record.ResourceID),
				logging.String("holder", record.Holder),
			)
		}
	}
	purged, err := m.store.PurgeExpired(ctx)
	if err != nil {
		return removed, fmt.Errorf("purge expired keys: %w", err)
	}
	if purged > 0 {
		m.logger.Debug("purged expired keys", logging.Int64("count", purged))
	}
	return removed, nil
}

// ForceReleaseAll deletes every lock record regardless of holder.
func (m *Manager) ForceReleaseAll(ctx context.Context) (int, error) {
	entries, err := m.store.Scan(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("scan locks: %w", err)
	}
	released := 0
	for _, entry := range entries {
		if err := m.store.Delete(ctx, entry.Key); err != nil {
			return released, fmt.Errorf("release %s: %w", entry.Key, err)
		}
		released++
	}
	logging.WarnWithContext(m.logger, "force released all locks", "locks_force_released",
		logging.Int("count", released),
		logging.String(logging.FieldErrorHint, "operations in flight may now overlap until they finish"),
		logging.String(logging.FieldImpact, "per-resource exclusion was bypassed"),
	)
	return released, nil
}

// WithLock runs fn while holding the lock for resourceID. It returns
// services.ErrLockUnavailable when the lock is taken.
func (m *Manager) WithLock(ctx context.Context, resourceID string, timeout time.Duration, fn func(context.Context) error) error {
	ok, err := m.Acquire(ctx, resourceID, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return services.Wrap(services.ErrLockUnavailable, "lock", "acquire", resourceID, nil)
	}
	defer func() {
		if releaseErr := m.Release(context.WithoutCancel(ctx), resourceID); releaseErr != nil {
			m.logger.Warn("lock release failed",
				logging.String(logging.FieldResourceID, resourceID),
				logging.Error(releaseErr),
				logging.String(logging.FieldEventType, "lock_release_failed"),
				logging.String(logging.FieldErrorHint, "lock will expire after its timeout"),
				logging.String(logging.FieldImpact, "resource stays blocked until expiry"),
			)
		}
	}()
	return fn(ctx)
}
