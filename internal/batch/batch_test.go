package batch_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cachegen/internal/artifact"
	"cachegen/internal/batch"
	"cachegen/internal/config"
	"cachegen/internal/kvstore"
	"cachegen/internal/lock"
	"cachegen/internal/notifications"
	"cachegen/internal/progress"
	"cachegen/internal/queue"
	"cachegen/internal/services"
	"cachegen/internal/testsupport"
	"cachegen/internal/workflow"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]string
}

func (r *fakeRunner) Validate(operation string) error {
	if operation != "generate" && operation != "delete" {
		return fmt.Errorf("unknown operation %q", operation)
	}
	return nil
}

func (r *fakeRunner) Run(_ context.Context, _ string, ids []string) ([]batch.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), ids...))
	out := make([]batch.Outcome, len(ids))
	for i, id := range ids {
		if msg, ok := r.fail[id]; ok {
			out[i] = batch.Outcome{ID: id, Error: msg}
			continue
		}
		out[i] = batch.Outcome{ID: id, Success: true}
	}
	return out, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []notifications.Payload
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	if event != notifications.EventBatchCompleted {
		return nil
	}
	n.mu.Lock()
	n.payloads = append(n.payloads, payload)
	n.mu.Unlock()
	return nil
}

type fixture struct {
	cfg       *config.Config
	kv        kvstore.Store
	locks     *lock.Manager
	tracker   *progress.Tracker
	runner    *fakeRunner
	notifier  *recordingNotifier
	processor *batch.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	kv := testsupport.MustOpenKV(t, cfg)
	f := &fixture{
		cfg:      cfg,
		kv:       kv,
		locks:    lock.NewManager(kv, cfg.LockTimeout(), nil),
		tracker:  progress.NewTracker(kv, cfg.Progress, nil),
		runner:   &fakeRunner{fail: map[string]string{}},
		notifier: &recordingNotifier{},
	}
	f.processor = batch.NewProcessor(cfg, kv, f.locks, f.tracker, f.runner, nil, batch.WithNotifier(f.notifier))
	return f
}

func items(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("post-%d", i+1)
	}
	return out
}

func TestProcessChunkCompletesInExactlyFourCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.processor.StartBatch(ctx, items(20), "generate", 5)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	job, err := f.processor.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != batch.StatusPending || job.TotalChunks() != 4 {
		t.Fatalf("unexpected new job: %+v", job)
	}

	for call, want := range []int{5, 10, 15, 20} {
		res, err := f.processor.ProcessChunk(ctx, id)
		if err != nil {
			t.Fatalf("ProcessChunk %d: %v", call+1, err)
		}
		if res.Processed != want {
			t.Fatalf("call %d processed = %d, want %d", call+1, res.Processed, want)
		}
		wantStatus := batch.StatusProcessing
		if call == 3 {
			wantStatus = batch.StatusCompleted
		}
		if res.Status != wantStatus {
			t.Fatalf("call %d status = %s, want %s", call+1, res.Status, wantStatus)
		}
	}
	if len(f.runner.calls) != 4 {
		t.Fatalf("runner calls = %d, want 4", len(f.runner.calls))
	}
	if got := f.runner.calls[1]; got[0] != "post-6" || got[4] != "post-10" {
		t.Fatalf("second chunk = %v", got)
	}

	again, err := f.processor.ProcessChunk(ctx, id)
	if err != nil {
		t.Fatalf("ProcessChunk after completion: %v", err)
	}
	if again.Status != batch.StatusCompleted || again.Processed != 20 || len(f.runner.calls) != 4 {
		t.Fatalf("completed batch did more work: %+v calls=%d", again, len(f.runner.calls))
	}

	job, err = f.processor.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	session, err := f.tracker.Get(ctx, job.ProgressID)
	if err != nil {
		t.Fatalf("progress Get: %v", err)
	}
	if session.Status != progress.StatusCompleted || session.Percentage != 100 || session.Current != 20 {
		t.Fatalf("unexpected progress session: %+v", session)
	}
	if len(f.notifier.payloads) != 1 || f.notifier.payloads[0]["total"] != 20 {
		t.Fatalf("expected one batch notification, got %+v", f.notifier.payloads)
	}
}

func TestProcessChunkRecordsItemFailures(t *testing.T) {
	f := newFixture(t)
	f.runner.fail["post-2"] = "producer failure: 503"
	ctx := context.Background()

	id, err := f.processor.StartBatch(ctx, items(3), "generate", 0)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	res, err := f.processor.ProcessChunk(ctx, id)
	if err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if res.Status != batch.StatusCompleted || res.Successful != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Errors["post-2"] != "producer failure: 503" {
		t.Fatalf("chunk errors = %v", res.Errors)
	}
	job, err := f.processor.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.ChunkSize != f.cfg.Batch.ChunkSize {
		t.Fatalf("chunk size = %d, want configured %d", job.ChunkSize, f.cfg.Batch.ChunkSize)
	}
	session, err := f.tracker.Get(ctx, job.ProgressID)
	if err != nil {
		t.Fatalf("progress Get: %v", err)
	}
	if len(session.Errors) != 1 || !strings.HasPrefix(session.Errors[0].Message, "post-2:") {
		t.Fatalf("progress errors = %+v", session.Errors)
	}
}

func TestCancelledBatchRejectsChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.processor.StartBatch(ctx, items(10), "delete", 5)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	if _, err := f.processor.ProcessChunk(ctx, id); err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	job, err := f.processor.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Status != batch.StatusCancelled {
		t.Fatalf("status = %s", job.Status)
	}

	res, err := f.processor.ProcessChunk(ctx, id)
	if !errors.Is(err, batch.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if res.Processed != 5 || len(f.runner.calls) != 1 {
		t.Fatalf("cancelled batch did work: %+v calls=%d", res, len(f.runner.calls))
	}
	session, err := f.tracker.Get(ctx, job.ProgressID)
	if err != nil {
		t.Fatalf("progress Get: %v", err)
	}
	if session.Status != progress.StatusCancelled {
		t.Fatalf("progress status = %s", session.Status)
	}
	if _, err := f.processor.Cancel(ctx, id); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
}

func TestProcessChunkHonorsBatchLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.processor.StartBatch(ctx, items(4), "generate", 2)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	ok, err := f.locks.Acquire(ctx, batch.Key(id), time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	if _, err := f.processor.ProcessChunk(ctx, id); !errors.Is(err, services.ErrLockUnavailable) {
		t.Fatalf("expected lock conflict, got %v", err)
	}
	if len(f.runner.calls) != 0 {
		t.Fatalf("runner ran while lock held")
	}
}

func TestStartBatchValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]func() error{
		"no items": func() error {
			_, err := f.processor.StartBatch(ctx, nil, "generate", 5)
			return err
		},
		"blank item": func() error {
			_, err := f.processor.StartBatch(ctx, []string{"a", " "}, "generate", 5)
			return err
		},
		"bad operation": func() error {
			_, err := f.processor.StartBatch(ctx, []string{"a"}, "publish", 5)
			return err
		},
		"negative chunk": func() error {
			_, err := f.processor.StartBatch(ctx, []string{"a"}, "generate", -1)
			return err
		},
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			if err := run(); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGetMissingBatch(t *testing.T) {
	f := newFixture(t)
	if _, err := f.processor.Get(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeBulk struct {
	calls int
}

func (b *fakeBulk) Bulk(_ context.Context, ids []string, op artifact.Operation, _ artifact.BulkOptions) artifact.BulkResult {
	b.calls++
	res := artifact.BulkResult{Operation: op, Total: len(ids)}
	for _, id := range ids {
		r := artifact.Result{ResourceID: id, Operation: op, Success: id != "bad"}
		if !r.Success {
			r.Error = "boom"
		}
		res.Results = append(res.Results, r)
	}
	return res
}

func TestDirectRunnerMapsResults(t *testing.T) {
	exec := &fakeBulk{}
	runner := batch.NewDirectRunner(exec)
	if err := runner.Validate("regenerate"); err != nil {
		t.Fatalf("Validate regenerate: %v", err)
	}
	if err := runner.Validate("publish"); err == nil {
		t.Fatal("expected unknown operation to be rejected")
	}
	out, err := runner.Run(context.Background(), "generate", []string{"ok", "bad"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 2 || !out[0].Success || out[1].Success || out[1].Error != "boom" {
		t.Fatalf("unexpected outcomes: %+v", out)
	}
}

type fakeEnqueuer struct {
	reqs []queue.EnqueueRequest
}

func (e *fakeEnqueuer) EnqueueBulk(_ context.Context, reqs []queue.EnqueueRequest) (workflow.BulkEnqueueReport, error) {
	e.reqs = append(e.reqs, reqs...)
	report := workflow.BulkEnqueueReport{}
	for i, req := range reqs {
		if req.TargetID == "bad" {
			report.Rejected = append(report.Rejected, workflow.RejectedRequest{Index: i, TargetID: req.TargetID, Error: "invalid"})
			continue
		}
		report.Created++
	}
	return report, nil
}

func TestQueueRunnerEnqueuesChunk(t *testing.T) {
	q := &fakeEnqueuer{}
	runner := batch.NewQueueRunner(q, 3)
	out, err := runner.Run(context.Background(), "delete", []string{"a", "bad", "c"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(q.reqs) != 3 || q.reqs[0].Action != queue.ActionDelete || q.reqs[2].Priority != 3 {
		t.Fatalf("unexpected requests: %+v", q.reqs)
	}
	if !out[0].Success || out[1].Success || out[1].Error != "invalid" || !out[2].Success {
		t.Fatalf("unexpected outcomes: %+v", out)
	}
}
