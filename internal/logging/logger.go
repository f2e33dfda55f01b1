package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"storyreel/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	Development bool
	Rotation    Rotation
}

// Rotation controls how file outputs are rolled over.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// mainLogName is the rotating daemon/CLI log kept beside the per-story logs.
const mainLogName = "storyreel.log"

// New builds a logger that writes to every path in opts.OutputPaths.
// "stdout" and "stderr" name the process streams; anything else is a file.
func New(opts Options) (*slog.Logger, error) {
	targets := opts.OutputPaths
	if len(targets) == 0 {
		targets = []string{"stdout"}
	}
	w, err := sinkFor(targets, opts.Rotation)
	if err != nil {
		return nil, err
	}
	return NewWithWriter(w, opts)
}

// NewWithWriter builds a logger on top of w. OutputPaths and Rotation are ignored.
func NewWithWriter(w io.Writer, opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))
	withSource := opts.Development || level.Level() <= slog.LevelDebug

	switch f := strings.ToLower(strings.TrimSpace(opts.Format)); f {
	case "", "console":
		return slog.New(newConsoleHandler(w, level, withSource)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			AddSource:   withSource,
			ReplaceAttr: jsonReplacer,
		})), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig builds the process logger from the [logging] section.
// With a log directory set, output is mirrored into a rotating storyreel.log.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	lc := cfg.Logging
	targets := []string{"stdout"}
	if dir := strings.TrimSpace(lc.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		targets = append(targets, filepath.Join(dir, mainLogName))
	}
	return New(Options{
		Level:       lc.Level,
		Format:      lc.Format,
		OutputPaths: targets,
		Rotation: Rotation{
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
			Compress:   lc.Compress,
		},
	})
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "warning" {
		name = "warn"
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// sinkFor fans log output out to the named targets, skipping blanks and duplicates.
func sinkFor(targets []string, rotation Rotation) (io.Writer, error) {
	var (
		names   []string
		writers []io.Writer
	)
	for _, raw := range targets {
		name := strings.TrimSpace(raw)
		if name == "" || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
		w, err := openSink(name, rotation)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	if len(writers) == 0 {
		return os.Stdout, nil
	}
	return io.MultiWriter(writers...), nil
}

func openSink(name string, rotation Rotation) (io.Writer, error) {
	switch name {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory %s: %w", dir, err)
		}
	}
	return &lumberjack.Logger{
		Filename:   name,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}, nil
}

// jsonReplacer shortens the builtin keys: "ts" in UTC, lowercase levels, base-name sources.
func jsonReplacer(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		if attr.Value.Kind() == slog.KindTime {
			return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339))
		}
		attr.Key = "ts"
	case slog.LevelKey:
		return slog.String(slog.LevelKey, strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return attr
}
