package intake

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"storyreel/internal/queue"
	"storyreel/internal/testsupport"
)

const validManifest = "title: Harbor\ntarget_language: es\ntext: The tide rose.\n"

func TestInboxScanQueuesAndRejects(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithInbox())
	store := testsupport.MustOpenStore(t, cfg)
	dir := cfg.Inbox.Dir
	for _, sub := range []string{"", processedDir, rejectedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	writeManifest(t, filepath.Join(dir, "a.yaml"), validManifest)
	writeManifest(t, filepath.Join(dir, "b.yml"), "title: Broken\n")
	writeManifest(t, filepath.Join(dir, "notes.txt"), "ignored")

	var queued []*queue.Story
	w := NewInboxWatcher(dir, store, nil, func(s *queue.Story) { queued = append(queued, s) })
	if n := w.Scan(context.Background()); n != 1 {
		t.Fatalf("expected 1 queued manifest, got %d", n)
	}
	if len(queued) != 1 || queued[0].Title != "Harbor" || queued[0].Status != queue.StatusQueued {
		t.Fatalf("unexpected callback stories %+v", queued)
	}

	if _, err := os.Stat(filepath.Join(dir, processedDir, "1-a.yaml")); err != nil {
		t.Fatalf("accepted manifest not moved: %v", err)
	}
	reason, err := os.ReadFile(filepath.Join(dir, rejectedDir, "b.yml.error"))
	if err != nil {
		t.Fatalf("rejection reason missing: %v", err)
	}
	if !strings.Contains(string(reason), "target_language") {
		t.Fatalf("unexpected rejection reason %q", reason)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("non-manifest file should stay: %v", err)
	}
}

func TestInboxWatcherPicksUpNewManifest(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithInbox())
	store := testsupport.MustOpenStore(t, cfg)

	got := make(chan *queue.Story, 1)
	var once sync.Once
	w := NewInboxWatcher(cfg.Inbox.Dir, store, nil, func(s *queue.Story) {
		once.Do(func() { got <- s })
	}, WithSettle(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	waitForDir(t, filepath.Join(cfg.Inbox.Dir, rejectedDir))
	// Give the watcher a moment to register the directory after creating it.
	time.Sleep(50 * time.Millisecond)
	writeManifest(t, filepath.Join(cfg.Inbox.Dir, "new.yaml"), validManifest)

	select {
	case story := <-got:
		if story.Title != "Harbor" {
			t.Fatalf("unexpected story %+v", story)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manifest was not picked up")
	}
}

func writeManifest(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func waitForDir(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("directory %s never appeared", path)
}
