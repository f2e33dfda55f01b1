package steps

import (
	"context"
	"fmt"
	"strings"

	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/stage"
	"storyreel/internal/transcript"
)

// Segmenter splits the adapted text into timed scenes and places image slots.
type Segmenter struct {
	base
}

// NewSegmenter constructs the segment-scenes handler.
func NewSegmenter(env Env) *Segmenter {
	return &Segmenter{base: newBase(env, stage.SegmentScenes)}
}

func (s *Segmenter) Prepare(ctx context.Context, story *queue.Story) error {
	if strings.TrimSpace(segmentInput(story)) == "" {
		return services.Wrap(services.ErrValidation, s.step, "validate inputs", "no adapted text to segment", nil)
	}
	return nil
}

func (s *Segmenter) Execute(ctx context.Context, story *queue.Story) (stage.Result, error) {
	cfg := s.env.Config
	input := segmentInput(story)

	var segments []transcript.Segment
	if story.Format == queue.FormatTranscript {
		parsed, err := transcript.Parse(input, tailDuration(cfg.Segmentation.TailSeconds))
		if err != nil {
			return stage.Result{}, err
		}
		segments = parsed
	} else {
		segments = transcript.Synthesize(input, cfg.Narration.WordsPerMinute)
	}

	merged, err := transcript.Merge(segments, transcript.MergeOptionsFromConfig(cfg.Segmentation))
	if err != nil {
		return stage.Result{}, err
	}
	dist, err := transcript.Distribute(merged, cfg.Segmentation.EarlyImageTarget, cfg.Segmentation.RemainderImageTarget)
	if err != nil {
		return stage.Result{}, err
	}
	if err := verifyImageCount(dist); err != nil {
		return stage.Result{}, err
	}

	scenes := make([]queue.Scene, len(dist.Scenes))
	for i, sc := range dist.Scenes {
		scenes[i] = queue.Scene{
			StoryID:           story.ID,
			Number:            sc.Number,
			Text:              sc.Text,
			AdaptedText:       sc.Text,
			HasImage:          sc.HasImage,
			ImageIndex:        sc.ImageIndex,
			EarlyWindow:       sc.EarlyWindow,
			EstimatedDuration: sc.Duration,
		}
	}
	if err := s.env.Store.ReplaceScenes(ctx, story.ID, scenes); err != nil {
		return stage.Result{}, fmt.Errorf("persist scenes: %w", err)
	}

	logger := s.log(ctx)
	logger.Info("scenes segmented",
		logging.String("scene_summary", transcript.Describe(dist.Scenes)),
		logging.Int("segment_count", len(segments)),
		logging.Int("image_count", dist.TotalImages()),
	)
	var result stage.Result
	if short := dist.Shortfall(); short > 0 {
		logging.WarnWithContext(logger, "image targets exceed available scenes",
			"image_shortfall",
			logging.Int("early_shortfall", dist.EarlyShortfall),
			logging.Int("remainder_shortfall", dist.RemainderShortfall),
			logging.String(logging.FieldImpact, "fewer images than configured"),
			logging.String(logging.FieldErrorHint, "lower segmentation image targets or raise scene targets"),
		)
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d requested image(s) could not be placed", short))
	}
	result.Summary = fmt.Sprintf("%s, %d image(s)", transcript.Describe(dist.Scenes), dist.TotalImages())
	return result, nil
}

func (s *Segmenter) HealthCheck(context.Context) stage.Health {
	if s.env.Store == nil {
		return stage.Unhealthy(s.step, "queue store unavailable")
	}
	return stage.Healthy(s.step)
}

// verifyImageCount checks that image slots match the clamped targets and that
// image indices run 1..N in scene order.
func verifyImageCount(dist transcript.Distribution) error {
	next := 1
	for _, sc := range dist.Scenes {
		if !sc.HasImage {
			continue
		}
		if sc.ImageIndex != next {
			return services.Wrap(services.ErrValidation, stage.SegmentScenes, "verify images",
				fmt.Sprintf("scene %d has image index %d, expected %d", sc.Number, sc.ImageIndex, next), nil)
		}
		next++
	}
	if got := next - 1; got != dist.TotalImages() {
		return services.Wrap(services.ErrValidation, stage.SegmentScenes, "verify images",
			fmt.Sprintf("placed %d images, expected %d", got, dist.TotalImages()), nil)
	}
	return nil
}

func segmentInput(story *queue.Story) string {
	for _, text := range []string{story.AdaptedText, story.TranslatedText, story.SourceText} {
		if strings.TrimSpace(text) != "" {
			return text
		}
	}
	return ""
}
