package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cachegen/internal/artifact"
	"cachegen/internal/config"
	"cachegen/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventItemFailed, notifications.Payload{"target_id": "post-1"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T, out *captured) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		out.title = r.Header.Get("Title")
		out.tags = r.Header.Get("Tags")
		out.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		out.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "item failed",
			event: notifications.EventItemFailed,
			payload: notifications.Payload{
				"target_id": "post-42",
				"action":    "generate",
				"attempts":  3,
				"error":     errors.New("producer returned 502"),
			},
			expectTitle:    "Cachegen - Item Failed",
			expectMessage:  "❌ generate post-42 failed after 3 attempt(s): producer returned 502",
			expectTags:     "cachegen,queue,failed",
			expectPriority: "high",
		},
		{
			name:  "rollback",
			event: notifications.EventRollback,
			payload: notifications.Payload{
				"resource_id": "post-7",
				"operation":   "delete",
				"error":       "write failure",
			},
			expectTitle:   "Cachegen - Rolled Back",
			expectMessage: "↩️ Rolled back delete for post-7: write failure",
			expectTags:    "cachegen,artifact,rollback",
		},
		{
			name:  "batch with failures",
			event: notifications.EventBatchCompleted,
			payload: notifications.Payload{
				"batch_id":   "b1",
				"operation":  "generate",
				"successful": 18,
				"failed":     2,
				"total":      20,
			},
			expectTitle:   "Cachegen - Batch Complete (with errors)",
			expectMessage: "📦 Batch b1 (generate): 18 succeeded, 2 failed of 20",
			expectTags:    "cachegen,batch,completed",
		},
		{
			name:  "queue completed",
			event: notifications.EventQueueCompleted,
			payload: notifications.Payload{
				"processed": 4,
				"failed":    0,
				"duration":  90 * time.Second,
			},
			expectTitle:   "Cachegen - Queue Complete",
			expectMessage: "Queue processing complete: 4 items processed in 1m30s",
			expectTags:    "cachegen,queue,completed",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Cachegen - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "cachegen,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got captured
			server := newCaptureServer(t, &got)

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for disabled event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.ItemFailures = false
	cfg.Notifications.Operator = false

	svc := notifications.NewService(&cfg)
	disabled := []notifications.Event{
		notifications.EventItemFailed,
		notifications.EventQueueStarted,
		notifications.EventQueueCompleted,
		notifications.EventLocksReleased,
		notifications.Event("unknown"),
	}
	for _, event := range disabled {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic not found", http.StatusNotFound)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

type recordingService struct {
	calls  atomic.Int32
	last   notifications.Event
	fields notifications.Payload
}

func (r *recordingService) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.calls.Add(1)
	r.last = event
	r.fields = payload
	return nil
}

func TestArtifactSubscriberForwardsRollbacksOnly(t *testing.T) {
	rec := &recordingService{}
	sub := notifications.NewArtifactSubscriber(rec, nil)
	ctx := context.Background()

	sub.HandleArtifactEvent(ctx, artifact.Event{Type: artifact.EventGenerated, ResourceID: "post-1"})
	sub.HandleArtifactEvent(ctx, artifact.Event{Type: artifact.EventFailed, ResourceID: "post-1"})
	if rec.calls.Load() != 0 {
		t.Fatalf("expected no notifications, got %d", rec.calls.Load())
	}

	sub.HandleArtifactEvent(ctx, artifact.Event{
		Type:       artifact.EventRolledBack,
		ResourceID: "post-1",
		Operation:  artifact.OpGenerate,
		Result:     artifact.Result{Error: "write failure"},
	})
	if rec.calls.Load() != 1 || rec.last != notifications.EventRollback {
		t.Fatalf("expected one rollback notification, got %d (%s)", rec.calls.Load(), rec.last)
	}
	if rec.fields["resource_id"] != "post-1" || rec.fields["operation"] != "generate" {
		t.Fatalf("unexpected payload: %#v", rec.fields)
	}
}
