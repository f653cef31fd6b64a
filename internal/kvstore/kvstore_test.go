package kvstore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"cachegen/internal/kvstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backend struct {
	name    string
	open    func(t *testing.T) (kvstore.Store, func(time.Duration))
	expires bool
}

func backends() []backend {
	return []backend{
		{
			name: "sqlite",
			open: func(t *testing.T) (kvstore.Store, func(time.Duration)) {
				clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
				store, err := kvstore.OpenSQLite(filepath.Join(t.TempDir(), "state.db"), kvstore.WithClock(clock.Now))
				if err != nil {
					t.Fatalf("OpenSQLite: %v", err)
				}
				t.Cleanup(func() { _ = store.Close() })
				return store, clock.Advance
			},
		},
		{
			name: "redis",
			open: func(t *testing.T) (kvstore.Store, func(time.Duration)) {
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				store := kvstore.NewRedis(client, "test:")
				t.Cleanup(func() { _ = store.Close() })
				return store, mr.FastForward
			},
		},
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, _ := b.open(t)
			ctx := context.Background()

			if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get missing = ok %v err %v", ok, err)
			}
			if err := store.Set(ctx, "meta:1:size", []byte("42"), 0); err != nil {
				t.Fatalf("Set: %v", err)
			}
			value, ok, err := store.Get(ctx, "meta:1:size")
			if err != nil || !ok || string(value) != "42" {
				t.Fatalf("Get = %q ok %v err %v", value, ok, err)
			}
			if err := store.Delete(ctx, "meta:1:size"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := store.Delete(ctx, "meta:1:size"); err != nil {
				t.Fatalf("second Delete: %v", err)
			}
			if _, ok, _ := store.Get(ctx, "meta:1:size"); ok {
				t.Fatal("expected key removed")
			}
		})
	}
}

func TestStoreSetNXRespectsLiveAndExpiredKeys(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, advance := b.open(t)
			ctx := context.Background()

			ok, err := store.SetNX(ctx, "lock:a", []byte("holder-1"), time.Minute)
			if err != nil || !ok {
				t.Fatalf("first SetNX = %v, %v", ok, err)
			}
			ok, err = store.SetNX(ctx, "lock:a", []byte("holder-2"), time.Minute)
			if err != nil || ok {
				t.Fatalf("second SetNX = %v, %v; want false", ok, err)
			}

			advance(2 * time.Minute)
			if _, ok, _ := store.Get(ctx, "lock:a"); ok {
				t.Fatal("expected expired key to be invisible")
			}
			ok, err = store.SetNX(ctx, "lock:a", []byte("holder-2"), time.Minute)
			if err != nil || !ok {
				t.Fatalf("SetNX after expiry = %v, %v; want true", ok, err)
			}
			value, _, _ := store.Get(ctx, "lock:a")
			if string(value) != "holder-2" {
				t.Fatalf("value = %q, want holder-2", value)
			}
		})
	}
}

func TestStoreSetNXWithoutTTLNeverExpires(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, advance := b.open(t)
			ctx := context.Background()
			if ok, err := store.SetNX(ctx, "k", []byte("v"), 0); err != nil || !ok {
				t.Fatalf("SetNX = %v, %v", ok, err)
			}
			advance(24 * time.Hour)
			if ok, _ := store.SetNX(ctx, "k", []byte("w"), 0); ok {
				t.Fatal("expected persistent key to block SetNX")
			}
		})
	}
}

func TestStoreCompareAndDelete(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, _ := b.open(t)
			ctx := context.Background()
			if err := store.Set(ctx, "lock:x", []byte("mine"), time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if ok, err := store.CompareAndDelete(ctx, "lock:x", []byte("theirs")); err != nil || ok {
				t.Fatalf("mismatched CompareAndDelete = %v, %v", ok, err)
			}
			if ok, err := store.CompareAndDelete(ctx, "lock:x", []byte("mine")); err != nil || !ok {
				t.Fatalf("matching CompareAndDelete = %v, %v", ok, err)
			}
			if _, ok, _ := store.Get(ctx, "lock:x"); ok {
				t.Fatal("expected key deleted")
			}
		})
	}
}

func TestStoreScanFiltersPrefixAndExpiry(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store, advance := b.open(t)
			ctx := context.Background()
			mustSet := func(key string, ttl time.Duration) {
				if err := store.Set(ctx, key, []byte(key), ttl); err != nil {
					t.Fatalf("Set %s: %v", key, err)
				}
			}
			mustSet("lock:b", time.Hour)
			mustSet("lock:a", time.Hour)
			mustSet("lock:short", time.Second)
			mustSet("progress:1", 0)

			advance(time.Minute)
			entries, err := store.Scan(ctx, "lock:")
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if len(entries) != 2 || entries[0].Key != "lock:a" || entries[1].Key != "lock:b" {
				t.Fatalf("unexpected entries: %+v", entries)
			}
			if entries[0].ExpiresAt.IsZero() {
				t.Fatal("expected expiry on TTL entry")
			}
		})
	}
}

func TestSQLitePurgeExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store, err := kvstore.OpenSQLite(filepath.Join(t.TempDir(), "state.db"), kvstore.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	_ = store.Set(ctx, "a", []byte("1"), time.Second)
	_ = store.Set(ctx, "b", []byte("2"), time.Hour)
	_ = store.Set(ctx, "c", []byte("3"), 0)
	clock.Advance(time.Minute)

	purged, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
}

func TestSQLiteClosedStoreRejectsOperations(t *testing.T) {
	store, err := kvstore.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Set(context.Background(), "k", nil, 0); err != kvstore.ErrClosed {
		t.Fatalf("Set after close = %v, want ErrClosed", err)
	}
}
