package services_test

import (
	"context"
	"testing"

	"cachegen/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithItemID(ctx, 42)
	ctx = services.WithResourceID(ctx, "post-7")
	ctx = services.WithBatchID(ctx, "batch-1")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ItemIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected item id: %v %v", id, ok)
	}
	if rid, ok := services.ResourceIDFromContext(ctx); !ok || rid != "post-7" {
		t.Fatalf("unexpected resource id: %v %v", rid, ok)
	}
	if bid, ok := services.BatchIDFromContext(ctx); !ok || bid != "batch-1" {
		t.Fatalf("unexpected batch id: %v %v", bid, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithResourceID(ctx, "")
	ctx = services.WithBatchID(ctx, "")
	if _, ok := services.ResourceIDFromContext(ctx); ok {
		t.Fatal("expected no resource value")
	}
	if _, ok := services.BatchIDFromContext(ctx); ok {
		t.Fatal("expected no batch value")
	}
}
