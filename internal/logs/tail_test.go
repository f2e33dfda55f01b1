package logs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"storyreel/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	writeLog(t, path, "a\nb\nc\n")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("expected offset at end of file, got %d", result.Offset)
	}

	more, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 2})
	if err != nil {
		t.Fatalf("Tail from offset: %v", err)
	}
	if len(more.Lines) != 2 || more.Lines[0] != "b" {
		t.Fatalf("unexpected lines from offset: %#v", more.Lines)
	}
}

func TestTailMissingFileIsEmpty(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "missing.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestTailRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	writeLog(t, path, "fresh\n")
	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: 500})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != "fresh" {
		t.Fatalf("unexpected lines %#v", result.Lines)
	}
}

func TestTailFollowWaitsForNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	writeLog(t, path, "start\n")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	first, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial Tail: %v", err)
	}

	done := make(chan logs.TailResult, 1)
	go func() {
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: first.Offset, Follow: true, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("follow Tail: %v", err)
		}
		done <- res
	}()

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()

	select {
	case res := <-done:
		if len(res.Lines) != 1 || res.Lines[0] != "later" {
			t.Fatalf("unexpected follow lines: %#v", res.Lines)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("follow did not return")
	}
}

func TestTailFollowStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	writeLog(t, path, "start\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := logs.Tail(ctx, path, logs.TailOptions{Offset: 6, Follow: true, Wait: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStoryFilesNewestLast(t *testing.T) {
	logDir := t.TempDir()
	dir := logs.StoryDir(logDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	early := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	names := []string{
		logs.StoryFileName(7, "Harbor Night", early.Add(time.Hour)),
		logs.StoryFileName(7, "Harbor Night", early),
		logs.StoryFileName(17, "Other", early),
		logs.StoryFileName(70, "Other", early),
	}
	for _, name := range names {
		writeLog(t, filepath.Join(dir, name), "{}\n")
	}

	files, err := logs.StoryFiles(logDir, 7)
	if err != nil {
		t.Fatalf("StoryFiles: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[1]) != names[0] {
		t.Fatalf("unexpected files %v", files)
	}
	latest, err := logs.LatestStoryFile(logDir, 7)
	if err != nil || filepath.Base(latest) != names[0] {
		t.Fatalf("LatestStoryFile = %q, %v", latest, err)
	}
	if none, err := logs.LatestStoryFile(logDir, 99); err != nil || none != "" {
		t.Fatalf("expected no log for unknown story, got %q %v", none, err)
	}
}
