package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cachegen/internal/app"
	"cachegen/internal/batch"
	"cachegen/internal/config"
	"cachegen/internal/queue"
	"cachegen/internal/testsupport"
)

type staticProducer struct{}

func (staticProducer) Capture(_ context.Context, id string) ([]byte, error) {
	return []byte("<p>" + id + "</p>"), nil
}

func (staticProducer) Transform(_ context.Context, content []byte, _ string) ([]byte, error) {
	return content, nil
}

func openApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	a, err := app.Open(cfg, nil, app.WithProducer(staticProducer{}))
	if err != nil {
		t.Fatalf("app.Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestOpenWiresQueueThroughExecutor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	a := openApp(t, cfg)
	ctx := context.Background()

	testsupport.Enqueue(t, a.Queue, "post-1", queue.ActionGenerate, 0)
	report, err := a.Manager.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.Completed != 1 {
		t.Fatalf("expected one completed item, got %+v", report)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Paths.ArtifactDir, "post-1.html"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "<p>post-1</p>" {
		t.Fatalf("artifact = %q", data)
	}
}

func TestQueueBatchModeEnqueues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Batch.Mode = config.BatchModeQueue
	a := openApp(t, cfg)
	ctx := context.Background()

	id, err := a.Batches.StartBatch(ctx, []string{"a", "b", "c"}, "generate", 2)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	for {
		res, err := a.Batches.ProcessChunk(ctx, id)
		if err != nil {
			t.Fatalf("ProcessChunk: %v", err)
		}
		if res.Status == batch.StatusCompleted {
			break
		}
	}
	items, err := a.Manager.Items(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 pending items, got %d", len(items))
	}
}

func TestOpenRejectsBadProducerTemplate(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithProducerURL("http://example.com/no-placeholder"))
	if _, err := app.Open(cfg, nil); err == nil {
		t.Fatal("expected producer configuration error")
	}
}
