package stageexec_test

import (
	"context"
	"errors"
	"testing"

	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/stage"
	"storyreel/internal/stageexec"
	"storyreel/internal/testsupport"
)

type fakeHandler struct {
	prepareErr error
	executeErr error
	executed   int
	mutate     func(*queue.Story)
}

func (h *fakeHandler) Prepare(context.Context, *queue.Story) error { return h.prepareErr }

func (h *fakeHandler) Execute(_ context.Context, story *queue.Story) (stage.Result, error) {
	h.executed++
	if h.executeErr != nil {
		return stage.Result{}, h.executeErr
	}
	if h.mutate != nil {
		h.mutate(story)
	}
	return stage.Result{Summary: "done"}, nil
}

func (h *fakeHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy("fake") }

func claimedStory(t *testing.T, store *queue.Store) *queue.Story {
	t.Helper()
	story := testsupport.NewStory(t, store, queue.Story{SourceText: "Hello world."})
	if ok, err := store.Claim(context.Background(), story.ID, "run-1"); err != nil || !ok {
		t.Fatalf("Claim failed: %v %v", ok, err)
	}
	claimed, _ := store.GetByID(context.Background(), story.ID)
	return claimed
}

func TestRunPersistsOutputAndSkipsOnReentry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	story := claimedStory(t, store)

	handler := &fakeHandler{mutate: func(s *queue.Story) { s.TranslatedText = "Hola mundo." }}
	opts := stageexec.Options{Store: store, Handler: handler, StepName: stage.Translate, RunID: "run-1", Story: story}

	outcome, err := stageexec.Run(ctx, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Skipped || outcome.Result.Summary != "done" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	fetched, _ := store.GetByID(ctx, story.ID)
	if fetched.TranslatedText != "Hola mundo." || fetched.Progress != stage.Marker(stage.Translate) {
		t.Fatalf("step output not persisted: %#v", fetched)
	}
	cp, _ := store.GetCheckpoint(ctx, story.ID, stage.Translate)
	if cp == nil || cp.Status != queue.CheckpointCompleted || cp.Summary != "done" || cp.RunID != "run-1" {
		t.Fatalf("unexpected checkpoint %#v", cp)
	}

	opts.Story = fetched
	outcome, err = stageexec.Run(ctx, opts)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !outcome.Skipped || handler.executed != 1 {
		t.Fatalf("expected skip on re-entry, executed=%d outcome=%+v", handler.executed, outcome)
	}
}

func TestRunFailureMarksStoryFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	story := claimedStory(t, store)

	stepErr := services.Wrap(services.ErrConfiguration, stage.GenerateAudio, "resolve voice", "no voice configured", nil)
	handler := &fakeHandler{prepareErr: stepErr}
	_, err := stageexec.Run(ctx, stageexec.Options{Store: store, Handler: handler, StepName: stage.GenerateAudio, Story: story})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if handler.executed != 0 {
		t.Fatal("execute should not run after prepare failure")
	}

	fetched, _ := store.GetByID(ctx, story.ID)
	if fetched.Status != queue.StatusFailed || fetched.ErrorMessage != "resolve voice: no voice configured" {
		t.Fatalf("unexpected story after failure: %s %q", fetched.Status, fetched.ErrorMessage)
	}
	cp, _ := store.GetCheckpoint(ctx, story.ID, stage.GenerateAudio)
	if cp == nil || cp.Status != queue.CheckpointFailed || cp.Error == "" {
		t.Fatalf("unexpected checkpoint %#v", cp)
	}
}

func TestRunCancellationLeavesStepRerunnable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	story := claimedStory(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	handler := &fakeHandler{executeErr: context.Canceled}
	cancel()
	_, err := stageexec.Run(ctx, stageexec.Options{Store: store, Handler: handler, StepName: stage.Adapt, Story: story})
	if err == nil {
		t.Fatal("expected error")
	}
	fetched, _ := store.GetByID(context.Background(), story.ID)
	if fetched.Status == queue.StatusFailed {
		t.Fatal("canceled step must not fail the story")
	}
	cp, _ := store.GetCheckpoint(context.Background(), story.ID, stage.Adapt)
	if cp != nil && cp.Status == queue.CheckpointCompleted {
		t.Fatalf("canceled step should not be completed: %#v", cp)
	}
}

func TestFailureMessage(t *testing.T) {
	if got := stageexec.FailureMessage(errors.New("plain")); got != "plain" {
		t.Fatalf("unexpected message %q", got)
	}
	wrapped := services.Wrap(services.ErrValidation, "segment-scenes", "distribute images", "image count mismatch", nil)
	if got := stageexec.FailureMessage(wrapped); got != "distribute images: image count mismatch" {
		t.Fatalf("unexpected message %q", got)
	}
}
