package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// leadingKeys are printed first, in this order, so event and failure
// context read before the remaining fields.
var leadingKeys = []string{
	FieldEventType,
	FieldProgress,
	FieldSceneNumber,
	FieldBatchIndex,
	FieldChunkIndex,
	FieldErrorKind,
	FieldErrorHint,
	FieldImpact,
	"error",
}

type field struct {
	key   string
	value slog.Value
}

// consoleHandler renders one human-readable line per record:
//
//	2026-01-02T15:04:05Z INFO  Story #7 (translate) pipeline: message key=value
//
// Story, stage and component attributes are lifted into the line prefix.
type consoleHandler struct {
	mu         *sync.Mutex
	out        io.Writer
	level      slog.Leveler
	withSource bool
	prefix     []string
	bound      []field
}

func newConsoleHandler(w io.Writer, level slog.Leveler, withSource bool) *consoleHandler {
	return &consoleHandler{mu: new(sync.Mutex), out: w, level: level, withSource: withSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = slices.Clone(h.bound)
	for _, attr := range attrs {
		next.bound = appendField(next.bound, h.prefix, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = append(slices.Clone(h.prefix), name)
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := slices.Clone(h.bound)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.prefix, attr)
		return true
	})

	var component, storyID, stage string
	rest := fields[:0]
	for _, f := range fields {
		var slot *string
		switch f.key {
		case FieldComponent:
			slot = &component
		case FieldStoryID:
			slot = &storyID
		case FieldStage:
			slot = &stage
		default:
			rest = append(rest, f)
			continue
		}
		if *slot == "" {
			*slot = plainValue(f.value)
		}
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(consoleLevel(record.Level))
	b.WriteByte(' ')
	if subject := FormatSubject(storyID, stage); subject != "" {
		b.WriteString(subject)
		b.WriteByte(' ')
	}
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(msg)

	if h.withSource {
		if src := record.Source(); src != nil && src.File != "" {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range leadingFirst(rest) {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(quotedValue(f.value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

// leadingFirst stably moves the leadingKeys fields to the front.
func leadingFirst(fields []field) []field {
	rank := func(key string) int {
		if i := slices.Index(leadingKeys, key); i >= 0 {
			return i
		}
		return len(leadingKeys)
	}
	slices.SortStableFunc(fields, func(a, b field) int {
		return rank(a.key) - rank(b.key)
	})
	return fields
}

// appendField flattens groups into dotted keys.
func appendField(dst []field, prefix []string, attr slog.Attr) []field {
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner = append(slices.Clone(prefix), attr.Key)
		}
		for _, member := range value.Group() {
			dst = appendField(dst, inner, member)
		}
		return dst
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(prefix, ".") + "." + key
	}
	return append(dst, field{key: key, value: value})
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quotedValue(v slog.Value) string {
	s := plainValue(v)
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func consoleLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN "
	case level >= slog.LevelInfo:
		return "INFO "
	}
	return "DEBUG"
}
