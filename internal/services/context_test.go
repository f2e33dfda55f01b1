package services_test

import (
	"context"
	"testing"

	"storyreel/internal/services"
)

func TestContextAnnotationsRoundTrip(t *testing.T) {
	ctx := services.WithStoryID(context.Background(), 42)
	ctx = services.WithStage(ctx, "translate")
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.StoryIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("story id = %d, %v", id, ok)
	}
	for name, got := range map[string]func(context.Context) (string, bool){
		"translate": services.StageFromContext,
		"run-1":     services.RunIDFromContext,
		"req-123":   services.RequestIDFromContext,
	} {
		if value, ok := got(ctx); !ok || value != name {
			t.Fatalf("expected %q, got %q (%v)", name, value, ok)
		}
	}
}

func TestBlankAnnotationsAreIgnored(t *testing.T) {
	ctx := services.WithRunID(services.WithStage(context.Background(), ""), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("blank stage should not be stored")
	}
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("blank run id should not be stored")
	}
	if _, ok := services.StoryIDFromContext(context.Background()); ok {
		t.Fatal("missing story id reported present")
	}
}
