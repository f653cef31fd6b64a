package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cachegen/internal/artifact"
	"cachegen/internal/config"
	"cachegen/internal/kvstore"
	"cachegen/internal/lock"
	"cachegen/internal/notifications"
	"cachegen/internal/queue"
	"cachegen/internal/services"
	"cachegen/internal/testsupport"
	"cachegen/internal/workflow"
)

type call struct {
	op string
	id string
}

type stubOps struct {
	mu     sync.Mutex
	calls  []call
	result func(op, id string, n int) artifact.Result
}

func (s *stubOps) record(op, id string) artifact.Result {
	s.mu.Lock()
	s.calls = append(s.calls, call{op: op, id: id})
	n := len(s.calls)
	fn := s.result
	s.mu.Unlock()
	if fn == nil {
		return artifact.Result{ResourceID: id, Success: true}
	}
	res := fn(op, id, n)
	res.ResourceID = id
	return res
}

func (s *stubOps) Generate(_ context.Context, id string) artifact.Result {
	return s.record("generate", id)
}

func (s *stubOps) Delete(_ context.Context, id string) artifact.Result {
	return s.record("delete", id)
}

func (s *stubOps) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.id)
	}
	return out
}

func failed(err error) artifact.Result {
	return artifact.Result{Success: false, Err: err, Code: services.Kind(err), Error: err.Error()}
}

type published struct {
	event   notifications.Event
	payload notifications.Payload
}

type stubNotifier struct {
	mu     sync.Mutex
	events []published
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	s.mu.Lock()
	s.events = append(s.events, published{event: event, payload: payload})
	s.mu.Unlock()
	return nil
}

func (s *stubNotifier) count(event notifications.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.events {
		if p.event == event {
			n++
		}
	}
	return n
}

type env struct {
	cfg      *config.Config
	store    *queue.Store
	kv       kvstore.Store
	locks    *lock.Manager
	ops      *stubOps
	notifier *stubNotifier
	manager  *workflow.Manager
}

func newEnv(t *testing.T, opts ...workflow.ManagerOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	kv := testsupport.MustOpenKV(t, cfg)
	locks := lock.NewManager(kv, cfg.LockTimeout(), nil)
	ops := &stubOps{}
	notifier := &stubNotifier{}
	all := append([]workflow.ManagerOption{workflow.WithNotifier(notifier)}, opts...)
	return &env{
		cfg:      cfg,
		store:    store,
		kv:       kv,
		locks:    locks,
		ops:      ops,
		notifier: notifier,
		manager:  workflow.NewManager(cfg, store, ops, locks, nil, all...),
	}
}

func (e *env) enqueue(t *testing.T, id string, action queue.Action, priority int) *queue.Item {
	t.Helper()
	return testsupport.Enqueue(t, e.store, id, action, priority)
}

func (e *env) item(t *testing.T, id int64) *queue.Item {
	t.Helper()
	item, err := e.store.GetByID(context.Background(), id)
	if err != nil || item == nil {
		t.Fatalf("GetByID(%d) = %v, %v", id, item, err)
	}
	return item
}

func (e *env) tick(t *testing.T) workflow.TickReport {
	t.Helper()
	report, err := e.manager.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return report
}

var errUpstream = errors.New("upstream unavailable")

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
