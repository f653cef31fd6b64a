package artifact_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"cachegen/internal/artifact"
)

func failingFor(ids ...string) *stubProducer {
	fail := make(map[string]bool, len(ids))
	for _, id := range ids {
		fail[id] = true
	}
	return &stubProducer{capture: func(_ context.Context, id string, _ int) ([]byte, error) {
		if fail[id] {
			return nil, errors.New("render failed for " + id)
		}
		return []byte("fresh " + id), nil
	}}
}

func TestBulkContinuesPastFailures(t *testing.T) {
	h := newHarness(t, failingFor("b"))
	out := h.exec.Bulk(context.Background(), []string{"a", "b", "c"}, artifact.OpGenerate, artifact.BulkOptions{})

	if out.CompletedCount() != 2 || out.FailedCount() != 1 {
		t.Fatalf("completed=%v failed=%v", out.Completed, out.Failed)
	}
	if out.Failed[0] != "b" || out.Aborted || out.RolledBack {
		t.Fatalf("unexpected bulk result: %+v", out)
	}
	if len(out.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(out.Results))
	}
}

func TestBulkAbortPolicyStopsBatch(t *testing.T) {
	h := newHarness(t, failingFor("b"))
	seen := 0
	out := h.exec.Bulk(context.Background(), []string{"a", "b", "c"}, artifact.OpGenerate, artifact.BulkOptions{
		Abort:  func(artifact.Result) bool { return true },
		OnItem: func(int, artifact.Result) { seen++ },
	})
	if !out.Aborted || len(out.Results) != 2 || seen != 2 {
		t.Fatalf("expected abort after second item, got %+v (seen %d)", out, seen)
	}
	if _, err := os.Stat(artifact.PathFor(h.dir, "c")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected c untouched after abort")
	}
}

func TestBulkRollbackOnFailureRestoresCompletedItems(t *testing.T) {
	h := newHarness(t, failingFor("c"))
	h.seed(t, "a", "old a", map[string]string{artifact.MetaSize: "5"})

	out := h.exec.Bulk(context.Background(), []string{"a", "b", "c"}, artifact.OpGenerate, artifact.BulkOptions{
		RollbackOnFailure: true,
	})
	if !out.RolledBack {
		t.Fatalf("expected rolled back bulk result: %+v", out)
	}
	content, _ := os.ReadFile(artifact.PathFor(h.dir, "a"))
	if string(content) != "old a" {
		t.Fatalf("a not restored: %q", content)
	}
	if meta := h.metadata(t, "a"); len(meta) != 1 || meta[artifact.MetaSize] != "5" {
		t.Fatalf("a metadata not restored: %+v", meta)
	}
	if _, err := os.Stat(artifact.PathFor(h.dir, "b")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected b removed by rollback")
	}
	if meta := h.metadata(t, "b"); len(meta) != 0 {
		t.Fatalf("b metadata not removed: %+v", meta)
	}
	for _, res := range out.Results[:2] {
		if !res.RolledBack {
			t.Fatalf("expected completed item marked rolled back: %+v", res)
		}
	}
	h.assertNoStrayFiles(t)
	for _, id := range []string{"a", "b", "c"} {
		h.assertUnlocked(t, id)
	}
}

func TestBulkRollbackOnFailureKeepsSuccessfulBatch(t *testing.T) {
	h := newHarness(t, failingFor())
	h.seed(t, "a", "old a", nil)
	out := h.exec.Bulk(context.Background(), []string{"a", "b"}, artifact.OpGenerate, artifact.BulkOptions{
		RollbackOnFailure: true,
	})
	if out.FailedCount() != 0 || out.RolledBack {
		t.Fatalf("unexpected result: %+v", out)
	}
	content, _ := os.ReadFile(artifact.PathFor(h.dir, "a"))
	if string(content) != "fresh a\n<!-- cached -->" {
		t.Fatalf("a content = %q", content)
	}
	h.assertNoStrayFiles(t)
}

func TestBulkDelete(t *testing.T) {
	h := newHarness(t, &stubProducer{})
	h.seed(t, "a", "x", nil)
	out := h.exec.Bulk(context.Background(), []string{"a", "missing"}, artifact.OpDelete, artifact.BulkOptions{})
	if out.CompletedCount() != 1 || out.FailedCount() != 1 || out.Failed[0] != "missing" {
		t.Fatalf("unexpected bulk delete: %+v", out)
	}
}
