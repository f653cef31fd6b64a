// Package telemetry exposes Prometheus metrics for the executor, queue and
// batch subsystems.
package telemetry

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cachegen/internal/artifact"
)

var (
	once sync.Once

	ArtifactEvents   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cachegen_artifact_events_total", Help: "Executor events by type and operation"}, []string{"event", "operation"})
	ArtifactDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "cachegen_artifact_duration_seconds", Help: "Executor operation duration", Buckets: prometheus.DefBuckets}, []string{"operation"})
	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cachegen_queue_enqueued_total", Help: "Queue items created"})
	QueueCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cachegen_queue_completed_total", Help: "Queue items completed"})
	QueueRetries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cachegen_queue_retries_total", Help: "Queue attempts that failed and were requeued"})
	QueueFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "cachegen_queue_failed_total", Help: "Queue items that failed terminally"})
	QueueDepthGauge  = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "cachegen_queue_items", Help: "Queue items by status"}, []string{"status"})
	TicksTotal       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cachegen_ticks_total", Help: "Scheduler ticks by outcome"}, []string{"outcome"})
	StaleReclaimed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cachegen_stale_reclaimed_total", Help: "Processing items reclaimed by the stale sweep"})
	LocksCleaned     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cachegen_locks_cleaned_total", Help: "Expired locks removed"})
	BatchChunks      = prometheus.NewCounter(prometheus.CounterOpts{Name: "cachegen_batch_chunks_total", Help: "Batch chunks processed"})
	ProducerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cachegen_producer_requests_total", Help: "Producer capture requests by outcome"}, []string{"outcome"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// Register adds every collector to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ArtifactEvents,
			ArtifactDuration,
			EnqueueCounter,
			QueueCompleted,
			QueueRetries,
			QueueFailed,
			QueueDepthGauge,
			TicksTotal,
			StaleReclaimed,
			LocksCleaned,
			BatchChunks,
			ProducerRequests,
		)
	})
}

// SetQueueDepth publishes per-status queue counts.
func SetQueueDepth(counts map[string]int) {
	for status, count := range counts {
		QueueDepthGauge.WithLabelValues(status).Set(float64(count))
	}
}

// ArtifactSubscriber records executor events.
type ArtifactSubscriber struct{}

// HandleArtifactEvent implements artifact.Subscriber.
func (ArtifactSubscriber) HandleArtifactEvent(_ context.Context, event artifact.Event) {
	op := string(event.Operation)
	ArtifactEvents.WithLabelValues(string(event.Type), op).Inc()
	switch event.Type {
	case artifact.EventGenerated, artifact.EventDeleted, artifact.EventFailed:
		ArtifactDuration.WithLabelValues(op).Observe(event.Result.Duration.Seconds())
	}
}
