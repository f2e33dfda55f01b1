package workflow

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/logs"
	"storyreel/internal/queue"
)

// StoryLogger manages dedicated log files for story runs.
type StoryLogger struct {
	baseDir string
	level   string
}

// NewStoryLogger returns nil when no log directory is configured.
func NewStoryLogger(cfg *config.Config) *StoryLogger {
	if cfg == nil || strings.TrimSpace(cfg.Logging.Dir) == "" {
		return nil
	}
	return &StoryLogger{
		baseDir: logs.StoryDir(cfg.Logging.Dir),
		level:   cfg.Logging.Level,
	}
}

// Open creates the run log for story and returns a JSON logger writing to it.
func (s *StoryLogger) Open(story *queue.Story) (*slog.Logger, string, io.Closer, error) {
	if story == nil {
		return nil, "", nil, fmt.Errorf("story is nil")
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nil, "", nil, fmt.Errorf("ensure story log directory: %w", err)
	}
	path := filepath.Join(s.baseDir, logs.StoryFileName(story.ID, story.Title, time.Now()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", nil, fmt.Errorf("open story log: %w", err)
	}
	logger, err := logging.NewWithWriter(file, logging.Options{Level: s.level, Format: "json"})
	if err != nil {
		file.Close()
		return nil, "", nil, err
	}
	return logger.With(logging.Int64(logging.FieldStoryID, story.ID)), path, file, nil
}

// storyLogger picks the run logger: the story file when available, otherwise
// the worker logger.
func (m *Manager) storyLogger(fallback *slog.Logger, story *queue.Story) (*slog.Logger, string, func()) {
	if m.storyLogs == nil {
		return fallback, "", func() {}
	}
	logger, path, closer, err := m.storyLogs.Open(story)
	if err != nil {
		fallback.Warn("story log unavailable; logging to daemon log",
			logging.Error(err),
			logging.String(logging.FieldEventType, "story_log_unavailable"),
		)
		return fallback, "", func() {}
	}
	return logger, path, func() { _ = closer.Close() }
}
