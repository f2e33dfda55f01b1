package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"storyreel/internal/backoff"
	"storyreel/internal/config"
	"storyreel/internal/notifications"
	"storyreel/internal/pipeline"
	"storyreel/internal/preflight"
	"storyreel/internal/providers"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/services/llm"
	"storyreel/internal/testsupport"
	"storyreel/internal/workflow"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) has(event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type env struct {
	cfg      *config.Config
	store    *queue.Store
	llm      *testsupport.FakeLLM
	notifier *recordingNotifier
	orch     *pipeline.Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithSegmentation(config.Segmentation{
		EarlyWindowSeconds:   10,
		EarlySceneTarget:     2,
		RemainderSceneTarget: 2,
		EarlyImageTarget:     1,
		RemainderImageTarget: 1,
		MinSceneSeconds:      2,
		MaxSceneSeconds:      8,
		MarginFloorSeconds:   1,
		TailSeconds:          5,
	}))
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 0
	cfg.Workflow.MaxConcurrentStories = 2
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	e := &env{
		cfg:      cfg,
		store:    testsupport.MustOpenStore(t, cfg),
		llm:      &testsupport.FakeLLM{},
		notifier: &recordingNotifier{},
	}
	factory := providers.Static{LLM: e.llm, Images: &testsupport.FakeImages{}, Narration: &testsupport.FakeNarration{}}
	e.orch = pipeline.New(cfg, e.store, factory, nil,
		pipeline.WithExecutor(backoff.NewExecutor(backoff.WithSleeper(func(time.Duration) {}))))
	return e
}

func (e *env) addStory(t *testing.T, title string) *queue.Story {
	t.Helper()
	return testsupport.NewStory(t, e.store, queue.Story{
		Title:      title,
		SourceText: "The tide rose over the harbor wall. Gulls circled the masts. The keeper lit the lamp. Night fell on the town.",
	})
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (e *env) status(t *testing.T, id int64) queue.Status {
	t.Helper()
	story, err := e.store.MustGet(context.Background(), id)
	if err != nil {
		t.Fatalf("MustGet: %v", err)
	}
	return story.Status
}

func TestManagerProcessesQueuedStories(t *testing.T) {
	e := newEnv(t)
	first := e.addStory(t, "Harbor")
	second := e.addStory(t, "Lamp")

	mgr := workflow.NewManager(e.cfg, e.store, e.orch, nil, workflow.WithNotifier(e.notifier))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()
	mgr.Wake()

	waitFor(t, 10*time.Second, "stories to complete", func() bool {
		return e.status(t, first.ID) == queue.StatusCompleted && e.status(t, second.ID) == queue.StatusCompleted
	})
	waitFor(t, 5*time.Second, "queue completion event", func() bool {
		return e.notifier.has(notifications.EventQueueCompleted)
	})
	if !e.notifier.has(notifications.EventQueueStarted) {
		t.Fatal("expected queue started event")
	}

	summary := mgr.Status(context.Background())
	if !summary.Running || summary.LastStory == nil || summary.QueueStats[queue.StatusCompleted] != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	logs, err := os.ReadDir(filepath.Join(e.cfg.Logging.Dir, "stories"))
	if err != nil {
		t.Fatalf("read story logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected one log per story, got %d", len(logs))
	}
	content, err := os.ReadFile(filepath.Join(e.cfg.Logging.Dir, "stories", logs[0].Name()))
	if err != nil {
		t.Fatalf("read story log: %v", err)
	}
	if !strings.Contains(string(content), "stage_complete") {
		t.Fatalf("story log missing step events: %s", content)
	}
}

func TestManagerStartTwiceFails(t *testing.T) {
	e := newEnv(t)
	mgr := workflow.NewManager(e.cfg, e.store, e.orch, nil, workflow.WithNotifier(e.notifier))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error on second start")
	}
}

func TestManagerRequiresOrchestrator(t *testing.T) {
	e := newEnv(t)
	mgr := workflow.NewManager(e.cfg, e.store, nil, nil)
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error without orchestrator")
	}
}

func TestManagerPreflightFailureBlocksClaims(t *testing.T) {
	e := newEnv(t)
	story := e.addStory(t, "Blocked")
	mgr := workflow.NewManager(e.cfg, e.store, e.orch, nil,
		workflow.WithNotifier(e.notifier),
		workflow.WithPreflight(func(context.Context) []preflight.Result {
			return []preflight.Result{{Name: "Work directory", Detail: "read-only"}}
		}),
	)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, "preflight error", func() bool {
		return strings.Contains(mgr.Status(context.Background()).LastError, "preflight")
	})
	mgr.Stop()

	if got := e.status(t, story.ID); got != queue.StatusQueued {
		t.Fatalf("story should stay queued, got %s", got)
	}
}

func TestManagerStopReturnsInFlightStoryToQueue(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{})
	var once sync.Once
	e.llm.Text = func(ctx context.Context, req llm.TextRequest) (string, error) {
		if req.JSONMode {
			return `{"language":"en"}`, nil
		}
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	}
	story := e.addStory(t, "Interrupted")

	mgr := workflow.NewManager(e.cfg, e.store, e.orch, nil, workflow.WithNotifier(e.notifier), workflow.WithStoryLogs(false))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mgr.Wake()
	select {
	case <-started:
	case <-time.After(10 * time.Second):
		mgr.Stop()
		t.Fatal("translation never started")
	}
	mgr.Stop()

	stored, err := e.store.MustGet(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("MustGet: %v", err)
	}
	if stored.Status != queue.StatusQueued || stored.CurrentStep != queue.DaemonStopReason {
		t.Fatalf("story not returned to queue: status=%s step=%q", stored.Status, stored.CurrentStep)
	}
	if stored.Progress < 5 {
		t.Fatalf("completed detection progress lost: %d", stored.Progress)
	}
}

func TestHeartbeatReclaimsStaleStories(t *testing.T) {
	e := newEnv(t)
	story := e.addStory(t, "Stale")
	ctx := context.Background()
	if ok, err := e.store.Claim(ctx, story.ID, "run-1"); err != nil || !ok {
		t.Fatalf("Claim: %v %v", ok, err)
	}

	monitor := workflow.NewHeartbeatMonitor(e.store, nil, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if err := monitor.ReclaimStaleStories(ctx, nil); err != nil {
		t.Fatalf("ReclaimStaleStories: %v", err)
	}
	if got := e.status(t, story.ID); got != queue.StatusQueued {
		t.Fatalf("expected stale story to be queued, got %s", got)
	}
}

func TestHeartbeatLoopRefreshesHeartbeat(t *testing.T) {
	e := newEnv(t)
	story := e.addStory(t, "Alive")
	ctx := context.Background()
	if ok, err := e.store.Claim(ctx, story.ID, "run-1"); err != nil || !ok {
		t.Fatalf("Claim: %v %v", ok, err)
	}
	claimed, _ := e.store.MustGet(ctx, story.ID)
	before := *claimed.HeartbeatAt

	monitor := workflow.NewHeartbeatMonitor(e.store, nil, 5*time.Millisecond, time.Minute)
	loopCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.StartLoop(loopCtx, &wg, story.ID)

	waitFor(t, 5*time.Second, "heartbeat refresh", func() bool {
		current, err := e.store.MustGet(ctx, story.ID)
		return err == nil && current.HeartbeatAt != nil && current.HeartbeatAt.After(before)
	})
	cancel()
	wg.Wait()
}

func TestManagerWorkerSurvivesTimedOutStory(t *testing.T) {
	e := newEnv(t)
	e.cfg.Workflow.MaxConcurrentStories = 1
	e.cfg.Retry.AttemptTimeoutSeconds = 1
	e.cfg.Retry.MaxAttempts = 2
	stuck := e.addStory(t, "Stuck")
	next := e.addStory(t, "Next")
	e.llm.Text = func(ctx context.Context, req llm.TextRequest) (string, error) {
		if id, _ := services.StoryIDFromContext(ctx); id == stuck.ID {
			<-ctx.Done()
			return "", ctx.Err()
		}
		if req.JSONMode {
			return `{"language":"en"}`, nil
		}
		return req.User, nil
	}

	mgr := workflow.NewManager(e.cfg, e.store, e.orch, nil, workflow.WithNotifier(e.notifier), workflow.WithStoryLogs(false))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()
	mgr.Wake()

	waitFor(t, 20*time.Second, "next story to complete", func() bool {
		return e.status(t, next.ID) == queue.StatusCompleted
	})
	if got := e.status(t, stuck.ID); got != queue.StatusFailed {
		t.Fatalf("timed-out story status %s, want failed", got)
	}
}
