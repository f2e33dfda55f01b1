package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"storyreel/internal/config"
	"storyreel/internal/logs"
	"storyreel/internal/providers"
	"storyreel/internal/queue"
	"storyreel/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	cfg        *config.Config
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("OPENROUTER_API_KEY", "")

	configPath := filepath.Join(base, "storyreel.toml")
	content := fmt.Sprintf(`[paths]
work_dir = %q
output_dir = %q
state_dir = %q

[llm]
api_key = "test"

[images]
provider = "placeholder"

[narration]
api_key = "test"
default_voice = "voice-test"

[segmentation]
early_window_seconds = 10.0
early_scene_target = 2
remainder_scene_target = 2
early_image_target = 1
remainder_image_target = 1
min_scene_seconds = 2.0
max_scene_seconds = 8.0
margin_floor_seconds = 1.0
tail_seconds = 5.0

[logging]
dir = %q
level = "error"
`,
		filepath.Join(base, "work"),
		filepath.Join(base, "output"),
		filepath.Join(base, "state"),
		filepath.Join(base, "logs"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cliTestEnv{baseDir: base, configPath: configPath, cfg: cfg}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (e *cliTestEnv) writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.baseDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func (e *cliTestEnv) story(t *testing.T, id int64) *queue.Story {
	t.Helper()
	store := testsupport.MustOpenStore(t, e.cfg)
	story, err := store.MustGet(context.Background(), id)
	if err != nil {
		t.Fatalf("MustGet: %v", err)
	}
	return story
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

const harborManifest = `title: Harbor Night
target_language: Spanish
text: |
  The tide rose over the harbor wall. Gulls circled the masts.
  The keeper lit the lamp. Night fell on the town.
`

func TestAddAndListStories(t *testing.T) {
	env := setupCLITestEnv(t)
	path := env.writeManifest(t, "harbor.yaml", harborManifest)

	out, _, err := runCLI(t, env, "add", path)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	requireContains(t, out, "Queued story 1: Harbor Night -> es")

	out, _, err = runCLI(t, env, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "Harbor Night")
	requireContains(t, out, "queued")

	out, _, err = runCLI(t, env, "--json", "queue", "list", "--status", "completed")
	if err != nil {
		t.Fatalf("queue list json: %v", err)
	}
	var payload struct {
		Stories []storyRow `json:"stories"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode json: %v (%s)", err, out)
	}
	if len(payload.Stories) != 0 {
		t.Fatalf("expected no completed stories, got %+v", payload.Stories)
	}
}

func TestAddRejectsInvalidManifest(t *testing.T) {
	env := setupCLITestEnv(t)
	path := env.writeManifest(t, "bad.yaml", "title: Missing target\ntext: hi\n")

	_, _, err := runCLI(t, env, "add", path)
	if err == nil || !strings.Contains(err.Error(), "target_language") {
		t.Fatalf("expected target_language error, got %v", err)
	}
}

func TestAddHoldThenEnqueue(t *testing.T) {
	env := setupCLITestEnv(t)
	path := env.writeManifest(t, "harbor.yaml", harborManifest)

	out, _, err := runCLI(t, env, "add", "--hold", path)
	if err != nil {
		t.Fatalf("add --hold: %v", err)
	}
	requireContains(t, out, "Created (held) story 1")
	if got := env.story(t, 1).Status; got != queue.StatusCreated {
		t.Fatalf("expected created, got %s", got)
	}

	out, _, err = runCLI(t, env, "queue", "enqueue", "1", "7")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Story 1 queued")
	requireContains(t, out, "Story 7 is missing or not held")
}

func TestProcessRunsStoryToCompletion(t *testing.T) {
	env := setupCLITestEnv(t)
	previous := providerFactory
	providerFactory = providers.Static{
		LLM:       &testsupport.FakeLLM{},
		Images:    &testsupport.FakeImages{},
		Narration: &testsupport.FakeNarration{},
	}
	t.Cleanup(func() { providerFactory = previous })

	path := env.writeManifest(t, "harbor.yaml", harborManifest)
	if _, _, err := runCLI(t, env, "add", path); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, _, err := runCLI(t, env, "process", "1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	requireContains(t, out, "Story 1: completed")
	requireContains(t, out, "Archive: ")

	story := env.story(t, 1)
	if story.Status != queue.StatusCompleted || story.Progress != 100 {
		t.Fatalf("unexpected story state %s %d", story.Status, story.Progress)
	}

	out, _, err = runCLI(t, env, "queue", "show", "1")
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, "Translate")
	requireContains(t, out, "Package")

	// A second run is a no-op on a completed story.
	out, _, err = runCLI(t, env, "--json", "process", "1")
	if err != nil {
		t.Fatalf("process again: %v", err)
	}
	var result processResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if result.Status != string(queue.StatusCompleted) {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestProcessUnknownStory(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, env, "process", "42")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if _, _, err := runCLI(t, env, "process", "abc"); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestQueueRetryOutcomes(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenStore(t, env.cfg)
	ctx := context.Background()
	failed := testsupport.NewStory(t, store, queue.Story{SourceText: "x"})
	failed.SetFailed("narration voice missing")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update: %v", err)
	}
	queued := testsupport.NewStory(t, store, queue.Story{SourceText: "y"})

	out, _, err := runCLI(t, env, "queue", "retry", fmt.Sprint(failed.ID), fmt.Sprint(queued.ID), "99")
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, fmt.Sprintf("Story %d requeued", failed.ID))
	requireContains(t, out, fmt.Sprintf("Story %d is not failed", queued.ID))
	requireContains(t, out, "Story 99 not found")

	if got := env.story(t, failed.ID).Status; got != queue.StatusQueued {
		t.Fatalf("expected queued after retry, got %s", got)
	}
}

func TestQueueResetStuckAndRemove(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenStore(t, env.cfg)
	ctx := context.Background()
	story := testsupport.NewStory(t, store, queue.Story{SourceText: "x"})
	if ok, err := store.Claim(ctx, story.ID, "run-1"); err != nil || !ok {
		t.Fatalf("Claim: %v %v", ok, err)
	}

	out, _, err := runCLI(t, env, "queue", "reset-stuck")
	if err != nil {
		t.Fatalf("reset-stuck: %v", err)
	}
	requireContains(t, out, "Reset 1 processing stories")

	out, _, err = runCLI(t, env, "--json", "queue", "remove", fmt.Sprint(story.ID), "77")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	var payload struct {
		Items []idOutcome `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(payload.Items) != 2 || payload.Items[0].Outcome != "removed" || payload.Items[1].Outcome != "not_found" {
		t.Fatalf("unexpected outcomes %+v", payload.Items)
	}
}

func TestStatusReportsDaemonLock(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "status", "--skip-llm")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "Work directory")

	lock := flock.New(env.cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer lock.Unlock()

	out, _, err = runCLI(t, env, "--json", "status", "--skip-llm")
	if err != nil {
		t.Fatalf("status json: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !report.DaemonRunning {
		t.Fatal("expected daemon lock to be reported as held")
	}
	for _, check := range report.Checks {
		if !check.Passed {
			t.Fatalf("unexpected failed check %+v", check)
		}
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "images=placeholder")

	out, _, err = runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "voice-test")
	requireContains(t, out, "********")
	if strings.Contains(out, "'test'") || strings.Contains(out, `"test"`) {
		t.Fatalf("config show leaked a secret: %s", out)
	}

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when config already exists")
	}
}

func TestLogsShowsLatestRunLog(t *testing.T) {
	env := setupCLITestEnv(t)
	path := env.writeManifest(t, "harbor.yaml", harborManifest)
	if _, _, err := runCLI(t, env, "add", path); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, _, err := runCLI(t, env, "logs", "1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "Story 1 has no run logs yet")

	dir := logs.StoryDir(env.cfg.Logging.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	logPath := filepath.Join(dir, logs.StoryFileName(1, "Harbor Night", time.Now()))
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	out, _, err = runCLI(t, env, "logs", "1", "--lines", "2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "first") || !strings.Contains(out, "second\nthird") {
		t.Fatalf("unexpected log output %q", out)
	}

	if _, _, err := runCLI(t, env, "logs", "5"); err == nil {
		t.Fatal("expected error for unknown story")
	}
}

func TestStepLabel(t *testing.T) {
	if got := stepLabel("generate-audio"); got != "Generate Audio" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := stepLabel(queue.DaemonStopReason); got != queue.DaemonStopReason {
		t.Fatalf("free-form steps should pass through, got %q", got)
	}
}
