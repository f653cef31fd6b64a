package daemon

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"cachegen/internal/api"
	"cachegen/internal/artifact"
	"cachegen/internal/batch"
	"cachegen/internal/notifications"
	"cachegen/internal/progress"
)

func TestHealthAndMetricsArePublic(t *testing.T) {
	h := newHarness(t, "secret")
	code, body := h.raw(t, "/healthz")
	if code != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthz = %d %q", code, body)
	}
	code, body = h.raw(t, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "cachegen_") {
		t.Fatalf("metrics = %d, missing cachegen series", code)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	h := newHarness(t, "secret")
	code, _ := h.raw(t, "/api/status")
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	var status api.DaemonStatus
	if code := h.do(t, http.MethodGet, "/api/status", nil, &status); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	if status.PID != os.Getpid() || status.Workflow.QueueStats == nil {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestQueueEndpoints(t *testing.T) {
	h := newHarness(t, "")

	var created api.EnqueueResponse
	code := h.do(t, http.MethodPost, "/api/queue", api.EnqueueRequest{TargetID: "post-1", Action: "generate"}, &created)
	if code != http.StatusCreated || !created.Created || created.Item.Status != "pending" {
		t.Fatalf("enqueue = %d %+v", code, created)
	}
	var dup api.EnqueueResponse
	if code := h.do(t, http.MethodPost, "/api/queue", api.EnqueueRequest{TargetID: "post-1", Action: "generate"}, &dup); code != http.StatusOK || dup.Created {
		t.Fatalf("duplicate enqueue = %d %+v", code, dup)
	}
	var bad api.ErrorResponse
	if code := h.do(t, http.MethodPost, "/api/queue", api.EnqueueRequest{TargetID: "x", Action: "publish"}, &bad); code != http.StatusBadRequest || bad.Kind != "validation_failure" {
		t.Fatalf("invalid action = %d %+v", code, bad)
	}

	var bulk api.BulkEnqueueResponse
	code = h.do(t, http.MethodPost, "/api/queue/bulk", api.BulkEnqueueRequest{Items: []api.EnqueueRequest{
		{TargetID: "post-2", Action: "generate"},
		{TargetID: "post-1", Action: "generate"},
		{TargetID: "post-3", Action: "nope"},
		{TargetID: "", Action: "delete"},
	}}, &bulk)
	if code != http.StatusOK || bulk.Created != 1 || bulk.Deduplicated != 1 || len(bulk.Rejected) != 2 {
		t.Fatalf("bulk = %d %+v", code, bulk)
	}
	if bulk.Rejected[0].Index != 2 || bulk.Rejected[1].Index != 3 {
		t.Fatalf("rejected indexes = %+v", bulk.Rejected)
	}

	var list api.QueueListResponse
	if code := h.do(t, http.MethodGet, "/api/queue?status=pending", nil, &list); code != http.StatusOK || len(list.Items) != 2 {
		t.Fatalf("list = %d %+v", code, list)
	}
	if code := h.do(t, http.MethodGet, "/api/queue?status=bogus", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d", code)
	}

	h.producer.missing["post-2"] = true
	if _, err := h.app.Manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var retried api.CountResponse
	if code := h.do(t, http.MethodPost, "/api/queue/retry-failed", nil, &retried); code != http.StatusOK || retried.Count != 1 {
		t.Fatalf("retry-failed = %d %+v", code, retried)
	}
	var cleared api.CountResponse
	if code := h.do(t, http.MethodPost, "/api/queue/clear", api.ClearRequest{Statuses: []string{"completed"}}, &cleared); code != http.StatusOK || cleared.Count != 1 {
		t.Fatalf("clear = %d %+v", code, cleared)
	}
}

func TestArtifactEndpoints(t *testing.T) {
	h := newHarness(t, "")

	var result artifact.Result
	if code := h.do(t, http.MethodPost, "/api/artifacts/post-9/generate", nil, &result); code != http.StatusOK || !result.Success {
		t.Fatalf("generate = %d %+v", code, result)
	}
	if _, err := os.Stat(result.Path); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	h.producer.missing["post-10"] = true
	var missing artifact.Result
	if code := h.do(t, http.MethodPost, "/api/artifacts/post-10/generate", nil, &missing); code != http.StatusNotFound || missing.Code != "not_found" {
		t.Fatalf("generate missing = %d %+v", code, missing)
	}

	var deleted artifact.Result
	if code := h.do(t, http.MethodDelete, "/api/artifacts/post-9", nil, &deleted); code != http.StatusOK || !deleted.Success {
		t.Fatalf("delete = %d %+v", code, deleted)
	}
	var again artifact.Result
	if code := h.do(t, http.MethodDelete, "/api/artifacts/post-9", nil, &again); code != http.StatusNotFound {
		t.Fatalf("second delete = %d %+v", code, again)
	}
}

func TestBatchAndProgressEndpoints(t *testing.T) {
	h := newHarness(t, "")

	var started api.StartBatchResponse
	code := h.do(t, http.MethodPost, "/api/batches", api.StartBatchRequest{Items: []string{"a", "b", "c"}, Operation: "generate", ChunkSize: 2}, &started)
	if code != http.StatusCreated || started.BatchID == "" {
		t.Fatalf("start batch = %d %+v", code, started)
	}

	var chunk batch.ChunkResult
	if code := h.do(t, http.MethodPost, "/api/batches/"+started.BatchID+"/chunk", nil, &chunk); code != http.StatusOK || chunk.Processed != 2 {
		t.Fatalf("chunk = %d %+v", code, chunk)
	}

	var job batch.Job
	if code := h.do(t, http.MethodGet, "/api/batches/"+started.BatchID, nil, &job); code != http.StatusOK || job.CurrentChunk != 1 {
		t.Fatalf("get batch = %d %+v", code, job)
	}

	var session progress.Session
	if code := h.do(t, http.MethodGet, "/api/progress/"+job.ProgressID, nil, &session); code != http.StatusOK || session.Current != 2 {
		t.Fatalf("get progress = %d %+v", code, session)
	}

	var cancelled batch.Job
	if code := h.do(t, http.MethodPost, "/api/batches/"+started.BatchID+"/cancel", nil, &cancelled); code != http.StatusOK || cancelled.Status != batch.StatusCancelled {
		t.Fatalf("cancel batch = %d %+v", code, cancelled)
	}
	var closed api.ErrorResponse
	if code := h.do(t, http.MethodPost, "/api/batches/"+started.BatchID+"/chunk", nil, &closed); code != http.StatusConflict {
		t.Fatalf("chunk after cancel = %d %+v", code, closed)
	}
	if code := h.do(t, http.MethodPost, "/api/progress/"+job.ProgressID+"/cancel", nil, nil); code != http.StatusConflict {
		t.Fatalf("cancel closed progress = %d", code)
	}
	if code := h.do(t, http.MethodGet, "/api/batches/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing batch = %d", code)
	}
}

func TestLockEndpoints(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	for _, id := range []string{"post-1", "post-2"} {
		if ok, err := h.app.Locks.Acquire(ctx, id, time.Minute); err != nil || !ok {
			t.Fatalf("Acquire %s: ok=%v err=%v", id, ok, err)
		}
	}

	var locks api.LockListResponse
	if code := h.do(t, http.MethodGet, "/api/locks", nil, &locks); code != http.StatusOK || len(locks.Locks) != 2 {
		t.Fatalf("list locks = %d %+v", code, locks)
	}
	var released api.CountResponse
	if code := h.do(t, http.MethodPost, "/api/locks/release-all", nil, &released); code != http.StatusOK || released.Count != 2 {
		t.Fatalf("release-all = %d %+v", code, released)
	}
	if !h.notifier.has(notifications.EventLocksReleased) {
		t.Fatal("expected locks released notification")
	}
}
