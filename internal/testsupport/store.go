package testsupport

import (
	"context"
	"testing"

	"storyreel/internal/config"
	"storyreel/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewStory creates a queued story for tests using the provided store.
func NewStory(t testing.TB, store *queue.Store, story queue.Story) *queue.Story {
	t.Helper()

	if story.Title == "" {
		story.Title = "Test Story"
	}
	if story.TargetLanguage == "" {
		story.TargetLanguage = "es"
	}
	created, err := store.NewStory(context.Background(), story)
	if err != nil {
		t.Fatalf("store.NewStory: %v", err)
	}
	return created
}
