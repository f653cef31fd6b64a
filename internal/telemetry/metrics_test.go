package telemetry_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cachegen/internal/artifact"
	"cachegen/internal/telemetry"
)

func TestArtifactSubscriberCountsEvents(t *testing.T) {
	counter := telemetry.ArtifactEvents.WithLabelValues(string(artifact.EventRolledBack), string(artifact.OpDelete))
	before := testutil.ToFloat64(counter)

	var sub telemetry.ArtifactSubscriber
	sub.HandleArtifactEvent(context.Background(), artifact.Event{
		Type:      artifact.EventRolledBack,
		Operation: artifact.OpDelete,
		Result:    artifact.Result{Duration: time.Millisecond},
	})

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	telemetry.EnqueueCounter.Inc()
	telemetry.SetQueueDepth(map[string]int{"pending": 3})

	handler := telemetry.Handler()
	// A second call must not panic on duplicate registration.
	_ = telemetry.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	if !strings.Contains(text, "cachegen_queue_enqueued_total") {
		t.Fatalf("expected enqueue counter in output")
	}
	if !strings.Contains(text, `cachegen_queue_items{status="pending"} 3`) {
		t.Fatalf("expected pending depth gauge in output")
	}
}
