package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
)

const (
	processedDir = "processed"
	rejectedDir  = "rejected"

	defaultSettle = 500 * time.Millisecond
)

// OnQueued is called after a story has been inserted.
type OnQueued func(story *queue.Story)

// InboxWatcher queues manifests dropped into a directory. Accepted manifests
// move to processed/, invalid ones to rejected/ next to a .error file.
type InboxWatcher struct {
	dir      string
	store    *queue.Store
	logger   *slog.Logger
	onQueued OnQueued
	settle   time.Duration
}

// InboxOption customizes an InboxWatcher.
type InboxOption func(*InboxWatcher)

// WithSettle sets how long a manifest must stay unmodified before it is read.
func WithSettle(d time.Duration) InboxOption {
	return func(w *InboxWatcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// NewInboxWatcher constructs a watcher for dir.
func NewInboxWatcher(dir string, store *queue.Store, logger *slog.Logger, onQueued OnQueued, opts ...InboxOption) *InboxWatcher {
	w := &InboxWatcher{
		dir:      dir,
		store:    store,
		logger:   logging.Component(logger, "inbox"),
		onQueued: onQueued,
		settle:   defaultSettle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the inbox until ctx ends. Manifests already present are queued
// first.
func (w *InboxWatcher) Run(ctx context.Context) error {
	for _, sub := range []string{w.dir, filepath.Join(w.dir, processedDir), filepath.Join(w.dir, rejectedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("ensure inbox directory: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch inbox %s: %w", w.dir, err)
	}

	w.logger.Info("inbox watcher started",
		logging.String(logging.FieldEventType, "inbox_started"),
		logging.String("dir", w.dir),
	)
	w.Scan(ctx)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isManifest(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "inbox_watch_error"),
			)
		case now := <-ticker.C:
			var ready []string
			for path, seen := range pending {
				if now.Sub(seen) >= w.settle {
					ready = append(ready, path)
				}
			}
			sort.Strings(ready)
			for _, path := range ready {
				delete(pending, path)
				w.process(ctx, path)
			}
		}
	}
}

// Scan queues every manifest currently in the inbox, in name order.
func (w *InboxWatcher) Scan(ctx context.Context) int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("inbox scan failed", logging.Error(err))
		return 0
	}
	queued := 0
	for _, entry := range entries {
		if entry.IsDir() || !isManifest(entry.Name()) {
			continue
		}
		if w.process(ctx, filepath.Join(w.dir, entry.Name())) {
			queued++
		}
	}
	return queued
}

func (w *InboxWatcher) process(ctx context.Context, path string) bool {
	if _, err := os.Stat(path); err != nil {
		// Already moved by an earlier event.
		return false
	}
	logger := w.logger.With(logging.String("manifest", filepath.Base(path)))

	manifest, err := LoadManifest(path)
	if err == nil {
		var story *queue.Story
		story, err = Enqueue(ctx, w.store, manifest)
		if err == nil {
			dest := filepath.Join(w.dir, processedDir, fmt.Sprintf("%d-%s", story.ID, filepath.Base(path)))
			if rerr := os.Rename(path, dest); rerr != nil {
				logger.Warn("could not move processed manifest; it will be queued again on restart",
					logging.Error(rerr),
					logging.String(logging.FieldImpact, "duplicate story on next scan"),
				)
			}
			logger.Info("story queued from inbox",
				logging.String(logging.FieldEventType, "inbox_queued"),
				logging.Int64(logging.FieldStoryID, story.ID),
				logging.String("title", story.Title),
			)
			if w.onQueued != nil {
				w.onQueued(story)
			}
			return true
		}
	}

	if !errors.Is(err, services.ErrValidation) {
		logging.ErrorWithContext(logger, "inbox manifest not queued", "inbox_failed",
			logging.String(logging.FieldErrorHint, "check queue database access; the manifest stays in the inbox"),
			logging.Error(err),
		)
		return false
	}
	w.reject(logger, path, err)
	return false
}

func (w *InboxWatcher) reject(logger *slog.Logger, path string, cause error) {
	dest := filepath.Join(w.dir, rejectedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		logger.Warn("could not move rejected manifest", logging.Error(err))
		dest = path
	}
	_ = os.WriteFile(dest+".error", []byte(cause.Error()+"\n"), 0o644)
	logging.WarnWithContext(logger, "inbox manifest rejected", "inbox_rejected",
		logging.String(logging.FieldErrorHint, "fix the manifest and drop it into the inbox again"),
		logging.Error(cause),
	)
}

func isManifest(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return !strings.HasPrefix(filepath.Base(name), ".")
	default:
		return false
	}
}
