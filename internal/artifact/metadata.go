package artifact

import (
	"context"
	"fmt"

	"cachegen/internal/kvstore"
)

// Tracked metadata keys. The executor snapshots and restores exactly these.
const (
	MetaGeneratedAt = "generated_at"
	MetaSize        = "size"
	MetaFingerprint = "fingerprint"
)

// TrackedKeys lists the metadata keys owned by the executor.
var TrackedKeys = []string{MetaGeneratedAt, MetaSize, MetaFingerprint}

// MetadataStore persists per-resource metadata values.
type MetadataStore interface {
	GetMeta(ctx context.Context, resourceID, key string) (string, bool, error)
	SetMeta(ctx context.Context, resourceID, key, value string) error
	DeleteMeta(ctx context.Context, resourceID, key string) error
}

// MetaKey returns the store key for one metadata value.
func MetaKey(resourceID, key string) string {
	return "meta:" + resourceID + ":" + key
}

// KVMetadata stores metadata in the shared key/value store without expiry.
type KVMetadata struct {
	store kvstore.Store
}

// NewKVMetadata wraps store.
func NewKVMetadata(store kvstore.Store) *KVMetadata {
	return &KVMetadata{store: store}
}

func (m *KVMetadata) GetMeta(ctx context.Context, resourceID, key string) (string, bool, error) {
	value, ok, err := m.store.Get(ctx, MetaKey(resourceID, key))
	if err != nil {
		return "", false, fmt.Errorf("read metadata %s: %w", key, err)
	}
	return string(value), ok, nil
}

func (m *KVMetadata) SetMeta(ctx context.Context, resourceID, key, value string) error {
	if err := m.store.Set(ctx, MetaKey(resourceID, key), []byte(value), 0); err != nil {
		return fmt.Errorf("write metadata %s: %w", key, err)
	}
	return nil
}

func (m *KVMetadata) DeleteMeta(ctx context.Context, resourceID, key string) error {
	if err := m.store.Delete(ctx, MetaKey(resourceID, key)); err != nil {
		return fmt.Errorf("delete metadata %s: %w", key, err)
	}
	return nil
}

// ReadMetadata returns the tracked metadata present for resourceID.
func ReadMetadata(ctx context.Context, store MetadataStore, resourceID string) (map[string]string, error) {
	values := make(map[string]string, len(TrackedKeys))
	for _, key := range TrackedKeys {
		value, ok, err := store.GetMeta(ctx, resourceID, key)
		if err != nil {
			return nil, err
		}
		if ok {
			values[key] = value
		}
	}
	return values, nil
}
