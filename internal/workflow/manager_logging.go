package workflow

import (
	"context"

	"cachegen/internal/queue"
	"cachegen/internal/services"
)

func withItemContext(ctx context.Context, item *queue.Item, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if item != nil {
		ctx = services.WithItemID(ctx, item.ID)
		ctx = services.WithResourceID(ctx, item.TargetID)
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}
