package transcript

import (
	"fmt"
	"strings"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/services"
)

// Scene is a contiguous run of segments narrated together.
type Scene struct {
	Number       int
	Start        time.Duration
	End          time.Duration
	Duration     time.Duration
	Text         string
	SegmentCount int
	EarlyWindow  bool
	HasImage     bool
	ImageIndex   int
}

// MergeOptions controls scene sizing.
type MergeOptions struct {
	EarlyWindow          time.Duration
	EarlySceneTarget     int
	RemainderSceneTarget int
	MinSceneDuration     time.Duration
	MaxSceneDuration     time.Duration
	MarginFloor          time.Duration
}

// MergeOptionsFromConfig converts the [segmentation] section.
func MergeOptionsFromConfig(cfg config.Segmentation) MergeOptions {
	return MergeOptions{
		EarlyWindow:          seconds(cfg.EarlyWindowSeconds),
		EarlySceneTarget:     cfg.EarlySceneTarget,
		RemainderSceneTarget: cfg.RemainderSceneTarget,
		MinSceneDuration:     seconds(cfg.MinSceneSeconds),
		MaxSceneDuration:     seconds(cfg.MaxSceneSeconds),
		MarginFloor:          seconds(cfg.MarginFloorSeconds),
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Bounds is the dynamic scene duration range for one window.
type Bounds struct {
	Ideal time.Duration
	Min   time.Duration
	Max   time.Duration
}

// WindowBounds derives the acceptable range for a window of the given length:
// [max(globalMin, ideal*0.7), max(globalMax, ideal*1.3)], with Max at least
// MarginFloor above Min.
func (o MergeOptions) WindowBounds(window time.Duration, target int) Bounds {
	if target <= 0 {
		target = 1
	}
	ideal := window / time.Duration(target)
	b := Bounds{
		Ideal: ideal,
		Min:   max(o.MinSceneDuration, scale(ideal, 0.7)),
		Max:   max(o.MaxSceneDuration, scale(ideal, 1.3)),
	}
	if b.Max < b.Min+o.MarginFloor {
		b.Max = b.Min + o.MarginFloor
	}
	return b
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

// Merge groups segments into scenes. A scene closes when it has reached the
// window's minimum and ends a sentence, when it reaches the window's maximum
// (even mid-sentence), at the last segment, or when the next segment starts at or
// past the early-window boundary.
func Merge(segments []Segment, opts MergeOptions) ([]Scene, error) {
	if len(segments) == 0 {
		return nil, services.Wrap(services.ErrValidation, "", "merge scenes", "no segments to merge", nil)
	}
	origin := segments[0].Start
	end := segments[len(segments)-1].End
	boundary := origin + opts.EarlyWindow

	earlyLen := min(boundary, end) - origin
	early := opts.WindowBounds(earlyLen, opts.EarlySceneTarget)
	var remainder Bounds
	if end > boundary {
		remainder = opts.WindowBounds(end-boundary, opts.RemainderSceneTarget)
	}

	var scenes []Scene
	var current []Segment
	for i, seg := range segments {
		current = append(current, seg)
		startsEarly := current[0].Start < boundary
		bounds := remainder
		if startsEarly {
			bounds = early
		}
		elapsed := seg.End - current[0].Start

		last := i == len(segments)-1
		crossesBoundary := !last && startsEarly && segments[i+1].Start >= boundary
		atCeiling := elapsed >= bounds.Max
		sentenceDone := elapsed >= bounds.Min && EndsSentence(seg.Text)

		if last || crossesBoundary || atCeiling || sentenceDone {
			scenes = append(scenes, buildScene(len(scenes)+1, current, startsEarly))
			current = nil
		}
	}
	return scenes, nil
}

func buildScene(number int, segments []Segment, early bool) Scene {
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			texts = append(texts, t)
		}
	}
	start := segments[0].Start
	end := segments[len(segments)-1].End
	return Scene{
		Number:       number,
		Start:        start,
		End:          end,
		Duration:     end - start,
		Text:         strings.Join(texts, " "),
		SegmentCount: len(segments),
		EarlyWindow:  early,
	}
}

// Describe summarizes scenes for logs.
func Describe(scenes []Scene) string {
	early := 0
	for _, s := range scenes {
		if s.EarlyWindow {
			early++
		}
	}
	return fmt.Sprintf("%d scenes (%d early, %d remainder)", len(scenes), early, len(scenes)-early)
}
