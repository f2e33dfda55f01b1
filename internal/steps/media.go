package steps

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"storyreel/internal/fanout"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/services/imagegen"
	"storyreel/internal/services/narration"
	"storyreel/internal/stage"
	"storyreel/internal/stageexec"
)

const (
	mediaImage = "image"
	mediaAudio = "audio"
)

// sceneJob renders one media item for one scene and records the outcome on it.
type sceneJob func(ctx context.Context, sc *queue.Scene) error

// fanOut runs job over scenes with bounded concurrency. Per-scene failures are
// recorded on the scene and reported as degradations; only cancellation fails
// the step.
func (b *base) fanOut(ctx context.Context, media string, scenes []*queue.Scene, opts fanout.Options, job sceneJob) (stage.Result, error) {
	logger := b.log(ctx)
	results, err := fanout.Run(ctx, len(scenes), opts, func(ctx context.Context, index int) (struct{}, error) {
		b.startScene(ctx, scenes[index], media)
		return struct{}{}, job(ctx, scenes[index])
	})
	if err != nil {
		return stage.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return stage.Result{}, err
	}

	var result stage.Result
	for i, r := range results {
		if r.Err == nil {
			continue
		}
		sc := scenes[i]
		message := stageexec.FailureMessage(r.Err)
		result.Degraded = append(result.Degraded, stage.Degradation{SceneNumber: sc.Number, Media: media, Error: message})
		logging.WarnWithContext(logger, "scene media failed",
			media+"_failed",
			logging.Int(logging.FieldSceneNumber, sc.Number),
			logging.String("media", media),
			logging.String(logging.FieldErrorKind, string(services.Kind(r.Err))),
			logging.String(logging.FieldImpact, "scene packaged with a substitute"),
			logging.Error(r.Err),
		)
	}
	failed := fanout.Failed(results)
	result.Summary = fmt.Sprintf("%d/%d %s(s) rendered", len(scenes)-failed, len(scenes), media)
	return result, nil
}

// startScene marks the scene's media as processing before its provider call.
// A run interrupted mid-call leaves it processing, so a resume renders it again.
func (b *base) startScene(ctx context.Context, sc *queue.Scene, media string) {
	switch media {
	case mediaImage:
		sc.ImageStatus = queue.SceneProcessing
	case mediaAudio:
		sc.AudioStatus = queue.SceneProcessing
	}
	if err := b.env.Store.UpdateScene(context.WithoutCancel(ctx), sc); err != nil {
		b.log(ctx).Warn("scene update failed", logging.Int(logging.FieldSceneNumber, sc.Number), logging.Error(err))
	}
}

// finishScene records a media outcome and persists the scene with a context that
// survives cancellation of the run.
func (b *base) finishScene(ctx context.Context, sc *queue.Scene, media string, jobErr error) error {
	if jobErr != nil && ctx.Err() != nil {
		return jobErr
	}
	status := queue.SceneCompleted
	if jobErr != nil {
		status = queue.SceneFailed
		sc.ErrorMessage = appendError(sc.ErrorMessage, media+": "+stageexec.FailureMessage(jobErr))
	}
	switch media {
	case mediaImage:
		sc.ImageStatus = status
	case mediaAudio:
		sc.AudioStatus = status
	}
	if err := b.env.Store.UpdateScene(context.WithoutCancel(ctx), sc); err != nil {
		b.log(ctx).Warn("scene update failed", logging.Int(logging.FieldSceneNumber, sc.Number), logging.Error(err))
	}
	return jobErr
}

func appendError(existing, next string) string {
	if strings.TrimSpace(existing) == "" {
		return next
	}
	return existing + "; " + next
}

func completedOnDisk(status queue.SceneStatus, path string) bool {
	if status != queue.SceneCompleted || strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Illustrator renders an image for every image scene.
type Illustrator struct {
	base
}

// NewIllustrator constructs the generate-images handler.
func NewIllustrator(env Env) *Illustrator {
	return &Illustrator{base: newBase(env, stage.GenerateImages)}
}

func (il *Illustrator) Prepare(ctx context.Context, story *queue.Story) error {
	if il.env.Images == nil {
		return services.Wrap(services.ErrConfiguration, il.step, "resolve image provider", "no image provider configured", nil)
	}
	return nil
}

func (il *Illustrator) Execute(ctx context.Context, story *queue.Story) (stage.Result, error) {
	scenes, err := loadScenes(ctx, il.env.Store, il.step, story.ID)
	if err != nil {
		return stage.Result{}, err
	}
	var pending []*queue.Scene
	reused := 0
	for i := range scenes {
		sc := &scenes[i]
		if !sc.HasImage {
			continue
		}
		if completedOnDisk(sc.ImageStatus, sc.ImagePath) {
			reused++
			continue
		}
		pending = append(pending, sc)
	}
	cfg := il.env.Config.Images
	opts := fanout.Options{Concurrency: cfg.Concurrency, Cooldown: millis(cfg.CooldownMillis)}
	result, err := il.fanOut(ctx, mediaImage, pending, opts, func(ctx context.Context, sc *queue.Scene) error {
		return il.finishScene(ctx, sc, mediaImage, il.render(ctx, story, sc))
	})
	if err != nil {
		return stage.Result{}, err
	}
	if reused > 0 {
		result.Summary += fmt.Sprintf(", %d reused", reused)
	}
	return result, nil
}

func (il *Illustrator) render(ctx context.Context, story *queue.Story, sc *queue.Scene) error {
	logger := il.log(ctx).With(logging.Int(logging.FieldSceneNumber, sc.Number))
	prompt := strings.TrimSpace(sc.VisualPrompt)
	if prompt == "" {
		prompt = FallbackPrompt(sc.NarrationText(), story.Mood)
	}
	req := imagegen.Request{
		Prompt:      prompt,
		AspectRatio: il.env.Config.Images.AspectRatio,
		Seed:        imagegen.SeedForImage(sc.ImageIndex),
	}
	data, err := call(ctx, &il.base, "generate image", func(ctx context.Context) ([]byte, error) {
		return il.env.Images.GenerateImage(ctx, req)
	})
	if err != nil {
		return err
	}
	path, err := il.writeMedia(story.ID, fmt.Sprintf("scene-%03d-image%s", sc.Number, imageExtension(data)), data)
	if err != nil {
		return err
	}
	sc.ImagePath = path
	logger.Debug("scene image written", logging.String("image_path", path), logging.Int64("seed", req.Seed))
	return nil
}

func (il *Illustrator) HealthCheck(context.Context) stage.Health {
	if il.env.Images == nil {
		return stage.Unhealthy(il.step, "image provider not configured")
	}
	return stage.Healthy(il.step)
}

func imageExtension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// Narrator renders narration audio for every scene.
type Narrator struct {
	base
}

// NewNarrator constructs the generate-audio handler.
func NewNarrator(env Env) *Narrator {
	return &Narrator{base: newBase(env, stage.GenerateAudio)}
}

// Voice returns the voice used for story: its own or the configured default.
func (n *Narrator) Voice(story *queue.Story) string {
	if voice := strings.TrimSpace(story.VoiceID); voice != "" {
		return voice
	}
	return strings.TrimSpace(n.env.Config.Narration.DefaultVoice)
}

func (n *Narrator) Prepare(ctx context.Context, story *queue.Story) error {
	if n.env.Narration == nil {
		return services.Wrap(services.ErrConfiguration, n.step, "resolve narration provider", "no narration provider configured", nil)
	}
	if n.Voice(story) == "" {
		return services.Wrap(services.ErrConfiguration, n.step, "resolve voice", "no voice configured", nil)
	}
	return nil
}

func (n *Narrator) Execute(ctx context.Context, story *queue.Story) (stage.Result, error) {
	scenes, err := loadScenes(ctx, n.env.Store, n.step, story.ID)
	if err != nil {
		return stage.Result{}, err
	}
	var pending []*queue.Scene
	for i := range scenes {
		if completedOnDisk(scenes[i].AudioStatus, scenes[i].AudioPath) {
			continue
		}
		pending = append(pending, &scenes[i])
	}
	cfg := n.env.Config
	opts := fanout.Options{
		Concurrency: cfg.Narration.Concurrency,
		Cooldown:    millis(cfg.Narration.CooldownMillis),
		Sequential:  cfg.NarrationSequential(),
	}
	voice := n.Voice(story)
	return n.fanOut(ctx, mediaAudio, pending, opts, func(ctx context.Context, sc *queue.Scene) error {
		return n.finishScene(ctx, sc, mediaAudio, n.render(ctx, story, sc, voice))
	})
}

func (n *Narrator) render(ctx context.Context, story *queue.Story, sc *queue.Scene, voice string) error {
	req := narration.Request{
		Text:     sc.NarrationText(),
		VoiceID:  voice,
		Language: story.TargetLanguage,
	}
	clip, err := call(ctx, &n.base, "generate narration", func(ctx context.Context) (narration.Narration, error) {
		return n.env.Narration.GenerateNarration(ctx, req)
	})
	if err != nil {
		return err
	}
	format := strings.TrimPrefix(strings.TrimSpace(n.env.Config.Narration.AudioFormat), ".")
	if format == "" {
		format = "mp3"
	}
	path, err := n.writeMedia(story.ID, fmt.Sprintf("scene-%03d-audio.%s", sc.Number, format), clip.Audio)
	if err != nil {
		return err
	}
	sc.AudioPath = path
	sc.ActualDuration = clip.Duration
	return nil
}

func (n *Narrator) HealthCheck(context.Context) stage.Health {
	if n.env.Narration == nil {
		return stage.Unhealthy(n.step, "narration provider not configured")
	}
	if strings.TrimSpace(n.env.Config.Narration.DefaultVoice) == "" {
		return stage.Health{Name: n.step, Ready: true, Detail: "no default voice; stories must set voice_id"}
	}
	return stage.Healthy(n.step)
}
