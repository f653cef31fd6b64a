package notifications

import (
	"context"
	"errors"
	"log/slog"

	"cachegen/internal/artifact"
	"cachegen/internal/logging"
)

// ArtifactSubscriber forwards executor rollbacks to a Service.
type ArtifactSubscriber struct {
	service Service
	logger  *slog.Logger
}

// NewArtifactSubscriber wraps service for registration on an executor.
func NewArtifactSubscriber(service Service, logger *slog.Logger) *ArtifactSubscriber {
	return &ArtifactSubscriber{service: service, logger: logging.NewComponentLogger(logger, "notifications")}
}

// HandleArtifactEvent implements artifact.Subscriber.
func (s *ArtifactSubscriber) HandleArtifactEvent(ctx context.Context, event artifact.Event) {
	if s == nil || s.service == nil || event.Type != artifact.EventRolledBack {
		return
	}
	err := s.service.Publish(ctx, EventRollback, Payload{
		"resource_id": event.ResourceID,
		"operation":   string(event.Operation),
		"error":       event.Result.Error,
	})
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		s.logger.Debug("shutting down, could not send rollback notification")
		return
	}
	s.logger.Debug("rollback notification failed", logging.Error(err))
}
