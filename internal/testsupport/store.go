package testsupport

import (
	"context"
	"testing"

	"cachegen/internal/config"
	"cachegen/internal/kvstore"
	"cachegen/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenKV opens the configured key/value backend and registers cleanup.
func MustOpenKV(t testing.TB, cfg *config.Config) kvstore.Store {
	t.Helper()

	store, err := kvstore.Open(cfg)
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Enqueue adds a pending item and fails the test on error.
func Enqueue(t testing.TB, store *queue.Store, targetID string, action queue.Action, priority int) *queue.Item {
	t.Helper()

	item, _, err := store.Enqueue(context.Background(), queue.EnqueueRequest{
		TargetID: targetID,
		Action:   action,
		Priority: priority,
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return item
}
