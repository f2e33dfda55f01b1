package transcript

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"storyreel/internal/services"
)

// DefaultTail is the duration given to the final segment.
const DefaultTail = 5 * time.Second

// ExpectedFormat describes accepted timestamp lines for operator-facing errors.
const ExpectedFormat = `lines must start with a bracketed timestamp such as "[00:01:05] text" or "[01:05] text"`

var timestampLine = regexp.MustCompile(`^\[(\d{1,3}):(\d{2})(?::(\d{2}))?\]\s*(.*)$`)

// Segment is one timestamped span of transcript text.
type Segment struct {
	Start    time.Duration
	End      time.Duration
	Duration time.Duration
	Text     string
}

// Parse reads timestamped lines. Lines without a timestamp continue the previous
// segment; lines before the first timestamp are ignored. Each segment ends where
// the next one starts and the last one lasts tail (DefaultTail when non-positive).
func Parse(raw string, tail time.Duration) ([]Segment, error) {
	if tail <= 0 {
		tail = DefaultTail
	}
	var segments []Segment
	for lineNo, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		match := timestampLine.FindStringSubmatch(line)
		if match == nil {
			if len(segments) > 0 {
				last := &segments[len(segments)-1]
				last.Text = joinText(last.Text, line)
			}
			continue
		}
		start, err := parseTimestamp(match[1], match[2], match[3])
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "", "parse transcript", fmt.Sprintf("line %d: %v", lineNo+1, err), nil)
		}
		if n := len(segments); n > 0 && start < segments[n-1].Start {
			return nil, services.Wrap(
				services.ErrValidation,
				"",
				"parse transcript",
				fmt.Sprintf("line %d: timestamp %s is earlier than previous %s", lineNo+1, FormatTimestamp(start, false), FormatTimestamp(segments[n-1].Start, false)),
				nil,
			)
		}
		segments = append(segments, Segment{Start: start, Text: strings.TrimSpace(match[4])})
	}
	if len(segments) == 0 {
		return nil, services.Wrap(services.ErrValidation, "", "parse transcript", "no timestamped lines found; "+ExpectedFormat, nil)
	}
	finalize(segments, tail)
	return segments, nil
}

// IsTimestamped reports whether raw contains at least one timestamp line.
func IsTimestamped(raw string) bool {
	for _, line := range strings.Split(raw, "\n") {
		if timestampLine.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

func parseTimestamp(first, second, third string) (time.Duration, error) {
	a, _ := strconv.Atoi(first)
	b, _ := strconv.Atoi(second)
	if third == "" {
		if b >= 60 {
			return 0, fmt.Errorf("invalid seconds in [%s:%s]", first, second)
		}
		return time.Duration(a)*time.Minute + time.Duration(b)*time.Second, nil
	}
	c, _ := strconv.Atoi(third)
	if b >= 60 || c >= 60 {
		return 0, fmt.Errorf("invalid timestamp [%s:%s:%s]", first, second, third)
	}
	return time.Duration(a)*time.Hour + time.Duration(b)*time.Minute + time.Duration(c)*time.Second, nil
}

func finalize(segments []Segment, tail time.Duration) {
	for i := range segments {
		if i+1 < len(segments) {
			segments[i].End = segments[i+1].Start
		} else {
			segments[i].End = segments[i].Start + tail
		}
		segments[i].Duration = segments[i].End - segments[i].Start
	}
}

// FormatTimestamp renders d as HH:MM:SS, or MM:SS when long is false and d is under an hour.
func FormatTimestamp(d time.Duration, long bool) string {
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if long || h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Format renders segments back into timestamped lines.
func Format(segments []Segment) string {
	long := len(segments) > 0 && segments[len(segments)-1].Start >= time.Hour
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s", FormatTimestamp(seg.Start, long), seg.Text)
	}
	return b.String()
}

// ReplaceTexts returns a copy of segments with texts substituted by 0-based index.
// Indices absent from texts keep their original text.
func ReplaceTexts(segments []Segment, texts map[int]string) []Segment {
	out := make([]Segment, len(segments))
	copy(out, segments)
	for i := range out {
		if text, ok := texts[i]; ok && strings.TrimSpace(text) != "" {
			out[i].Text = strings.Join(strings.Fields(text), " ")
		}
	}
	return out
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
