package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cachegen/internal/queue"
	"cachegen/internal/workflow"
)

func TestSchedulerRunsJobsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	s := workflow.NewScheduler(nil, workflow.Job{
		Name:     "count",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if runs.Load() < 3 {
		t.Fatalf("expected at least 3 runs, got %d", runs.Load())
	}
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Fatal("job ran after Stop")
	}
	if s.Running() {
		t.Fatal("expected scheduler stopped")
	}
}

func TestSchedulerRecoversFromPanics(t *testing.T) {
	s := workflow.NewScheduler(nil, workflow.Job{
		Name:     "explode",
		Interval: time.Hour,
		Run:      func(context.Context) error { panic("kaboom") },
	})
	err := s.RunNow(context.Background(), "explode")
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestSchedulerRejectsEmptyJobSet(t *testing.T) {
	s := workflow.NewScheduler(nil, workflow.Job{Name: "no-interval", Run: func(context.Context) error { return nil }})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error without runnable jobs")
	}
}

func TestDefaultJobsDrainQueue(t *testing.T) {
	e := newEnv(t)
	e.enqueue(t, "post-1", queue.ActionGenerate, 0)

	s := workflow.NewScheduler(nil, workflow.DefaultJobs(e.cfg, e.manager, e.locks, e.kv)...)
	for _, name := range []string{"stale-recovery", "tick", "lock-cleanup", "retention"} {
		if err := s.RunNow(context.Background(), name); err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("job %s failed: %v", name, err)
		}
	}
	items, _ := e.manager.Items(context.Background(), queue.StatusCompleted)
	if len(items) != 1 {
		t.Fatalf("expected tick job to complete the item, got %d", len(items))
	}
}
