package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cachegen/internal/config"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kvstore closed")

// Entry is a live key returned by Scan. ExpiresAt is zero for keys without TTL.
type Entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// Store is a TTL-aware key/value store. A ttl <= 0 stores the key without
// expiry. Expired keys are invisible to every read and to SetNX.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent or expired and reports
	// whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
	// Scan returns live entries whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	// PurgeExpired physically removes expired keys for backends that do not
	// expire them natively.
	PurgeExpired(ctx context.Context) (int64, error)
	Close() error
}

// Open returns the backend selected by cfg.Store.Backend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "", config.BackendSQLite:
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(cfg.StateDBPath())
	case config.BackendRedis:
		return OpenRedis(context.Background(), cfg.Store)
	default:
		return nil, fmt.Errorf("unsupported kv backend %q", cfg.Store.Backend)
	}
}
