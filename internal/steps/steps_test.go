package steps_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"storyreel/internal/backoff"
	"storyreel/internal/batcher"
	"storyreel/internal/config"
	"storyreel/internal/packaging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/services/imagegen"
	"storyreel/internal/services/llm"
	"storyreel/internal/services/narration"
	"storyreel/internal/steps"
	"storyreel/internal/testsupport"
)

type fixture struct {
	cfg       *config.Config
	store     *queue.Store
	llm       *testsupport.FakeLLM
	images    *testsupport.FakeImages
	narration *testsupport.FakeNarration
	env       steps.Env
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	f := &fixture{
		cfg:       cfg,
		store:     store,
		llm:       &testsupport.FakeLLM{},
		images:    &testsupport.FakeImages{},
		narration: &testsupport.FakeNarration{},
	}
	f.env = steps.Env{
		Config:    cfg,
		Store:     store,
		LLM:       f.llm,
		Images:    f.images,
		Narration: f.narration,
		Executor:  backoff.NewExecutor(backoff.WithSleeper(func(time.Duration) {})),
		Packager:  packaging.New(cfg, nil),
	}
	return f
}

func (f *fixture) seedScenes(t *testing.T, storyID int64, scenes ...queue.Scene) {
	t.Helper()
	for i := range scenes {
		scenes[i].StoryID = storyID
		scenes[i].Number = i + 1
	}
	if err := f.store.ReplaceScenes(context.Background(), storyID, scenes); err != nil {
		t.Fatalf("ReplaceScenes: %v", err)
	}
}

func (f *fixture) scenes(t *testing.T, storyID int64) []queue.Scene {
	t.Helper()
	scenes, err := f.store.ListScenes(context.Background(), storyID)
	if err != nil {
		t.Fatalf("ListScenes: %v", err)
	}
	return scenes
}

func TestDetectorUsesDeclaredLanguage(t *testing.T) {
	f := newFixture(t)
	story := &queue.Story{SourceText: "Once upon a time.", SourceLanguage: "English"}
	d := steps.NewDetector(f.env)
	if err := d.Prepare(context.Background(), story); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := d.Execute(context.Background(), story); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if story.DetectedLanguage != "en" || f.llm.TextCallCount() != 0 {
		t.Fatalf("detected=%q calls=%d", story.DetectedLanguage, f.llm.TextCallCount())
	}
}

func TestDetectorAsksProvider(t *testing.T) {
	f := newFixture(t)
	f.llm.Text = func(ctx context.Context, req llm.TextRequest) (string, error) {
		if !req.JSONMode {
			t.Errorf("detection should use JSON mode")
		}
		return "```json\n{\"language\":\"FR\"}\n```", nil
	}
	story := &queue.Story{
		SourceText: "[00:00] Il était une fois.\n[00:04] Une petite maison.",
		Format:     queue.FormatTranscript,
	}
	d := steps.NewDetector(f.env)
	if _, err := d.Execute(context.Background(), story); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if story.DetectedLanguage != "fr" {
		t.Fatalf("detected %q, want fr", story.DetectedLanguage)
	}
	if user := f.llm.TextCalls[0].User; strings.Contains(user, "[00:00]") {
		t.Fatalf("sample should not carry timestamps: %q", user)
	}
}

func TestDetectorMalformedResponseIsValidation(t *testing.T) {
	f := newFixture(t)
	f.llm.Text = func(context.Context, llm.TextRequest) (string, error) { return "I think it is French", nil }
	_, err := steps.NewDetector(f.env).Execute(context.Background(), &queue.Story{SourceText: "Bonjour."})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTranslatorCopiesWhenLanguagesMatch(t *testing.T) {
	f := newFixture(t)
	story := &queue.Story{SourceText: "Hola mundo.", DetectedLanguage: "es", TargetLanguage: "es-MX"}
	tr := steps.NewTranslator(f.env)
	if err := tr.Prepare(context.Background(), story); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := tr.Execute(context.Background(), story); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if story.TranslatedText != story.SourceText || f.llm.TextCallCount() != 0 {
		t.Fatalf("expected copy without calls, got %q (%d calls)", story.TranslatedText, f.llm.TextCallCount())
	}
}

func TestTranslatorProseRetriesShortOutput(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.llm.Text = func(ctx context.Context, req llm.TextRequest) (string, error) {
		calls++
		if calls == 1 {
			return "Había.", nil
		}
		return "Había una vez un faro alto y blanco sobre la costa rocosa del norte.", nil
	}
	story := &queue.Story{
		SourceText:       "Once upon a time there was a lighthouse on the rocky coast.",
		DetectedLanguage: "en",
		TargetLanguage:   "es",
	}
	result, err := steps.NewTranslator(f.env).Execute(context.Background(), story)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if story.TranslatedText != "Había una vez un faro alto y blanco sobre la costa rocosa del norte." {
		t.Fatalf("unexpected translation %q", story.TranslatedText)
	}
	if f.llm.TextCallCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", f.llm.TextCallCount())
	}
	if !strings.Contains(f.llm.TextCalls[0].System, "Spanish") {
		t.Fatalf("system prompt should name the target language: %q", f.llm.TextCalls[0].System)
	}
	if !strings.Contains(result.Summary, "1 chunk(s)") {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
}

func TestTranslatorTranscriptKeepsTimestamps(t *testing.T) {
	f := newFixture(t)
	f.llm.Batch = func(ctx context.Context, system string, items []batcher.Tagged) ([]batcher.Tagged, error) {
		return []batcher.Tagged{{ID: "1", Text: "Hola a todos."}, {ID: "99", Text: "ignored"}}, nil
	}
	story := &queue.Story{
		SourceText:       "[00:00] Hello everyone.\n[00:05] Goodbye now.",
		Format:           queue.FormatTranscript,
		DetectedLanguage: "en",
		TargetLanguage:   "es",
	}
	result, err := steps.NewTranslator(f.env).Execute(context.Background(), story)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "[00:00] Hola a todos.\n[00:05] Goodbye now."
	if story.TranslatedText != want {
		t.Fatalf("translated = %q, want %q", story.TranslatedText, want)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "segment 2") {
		t.Fatalf("expected fallback warning for segment 2, got %v", result.Warnings)
	}
	if f.llm.BatchCallCount() != 1 {
		t.Fatalf("expected one batch call, got %d", f.llm.BatchCallCount())
	}
}

func TestTranslatorExhaustedRetriesAreExternal(t *testing.T) {
	f := newFixture(t)
	f.llm.Text = func(context.Context, llm.TextRequest) (string, error) {
		return "", services.Wrap(services.ErrTransient, "", "llm complete", "upstream busy", nil)
	}
	story := &queue.Story{SourceText: "Hello.", DetectedLanguage: "en", TargetLanguage: "de"}
	_, err := steps.NewTranslator(f.env).Execute(context.Background(), story)
	if !errors.Is(err, backoff.ErrMaxRetriesExceeded) || !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected exhausted external error, got %v", err)
	}
	if f.llm.TextCallCount() != f.cfg.Retry.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", f.cfg.Retry.MaxAttempts, f.llm.TextCallCount())
	}
}

func TestAdapterNamesLocale(t *testing.T) {
	f := newFixture(t)
	story := &queue.Story{TranslatedText: "Hola.", TargetLanguage: "es", TargetLocale: "es-mx"}
	a := steps.NewAdapter(f.env)
	if err := a.Prepare(context.Background(), story); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := a.Execute(context.Background(), story); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if story.AdaptedText != "Hola." {
		t.Fatalf("unexpected adapted text %q", story.AdaptedText)
	}
	if !strings.Contains(f.llm.TextCalls[0].System, "es-MX") {
		t.Fatalf("adapt prompt should name the locale: %q", f.llm.TextCalls[0].System)
	}
}

func TestSegmenterPersistsScenesWithImageSlots(t *testing.T) {
	f := newFixture(t, testsupport.WithSegmentation(config.Segmentation{
		EarlyWindowSeconds:   20,
		EarlySceneTarget:     3,
		RemainderSceneTarget: 3,
		EarlyImageTarget:     2,
		RemainderImageTarget: 50,
		MinSceneSeconds:      3,
		MaxSceneSeconds:      8,
		MarginFloorSeconds:   1,
		TailSeconds:          5,
	}))
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "The keeper climbed the stairs again at night number %d. ", i+1)
	}
	story := testsupport.NewStory(t, f.store, queue.Story{SourceText: "x"})
	story.AdaptedText = b.String()

	seg := steps.NewSegmenter(f.env)
	if err := seg.Prepare(context.Background(), story); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	result, err := seg.Execute(context.Background(), story)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	scenes := f.scenes(t, story.ID)
	if len(scenes) < 2 {
		t.Fatalf("expected several scenes, got %d", len(scenes))
	}
	early, remainder, images := 0, 0, 0
	for i, sc := range scenes {
		if sc.Number != i+1 {
			t.Fatalf("scene numbers not contiguous: %d at %d", sc.Number, i)
		}
		if sc.EarlyWindow {
			early++
		} else {
			remainder++
		}
		if sc.HasImage {
			images++
			if sc.ImageIndex != images {
				t.Fatalf("image index %d, want %d", sc.ImageIndex, images)
			}
		}
	}
	want := min(2, early) + min(50, remainder)
	if images != want {
		t.Fatalf("placed %d images, want %d", images, want)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a shortfall warning for the oversized remainder target")
	}
}

func TestSegmenterRejectsUntimedTranscript(t *testing.T) {
	f := newFixture(t)
	story := testsupport.NewStory(t, f.store, queue.Story{SourceText: "x", Format: queue.FormatTranscript})
	story.AdaptedText = "no timestamps here"
	_, err := steps.NewSegmenter(f.env).Execute(context.Background(), story)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPrompterFallsBackToSceneText(t *testing.T) {
	f := newFixture(t)
	f.llm.Batch = func(ctx context.Context, system string, items []batcher.Tagged) ([]batcher.Tagged, error) {
		if !strings.Contains(system, "gloomy watercolor") {
			t.Errorf("system prompt missing mood: %q", system)
		}
		return []batcher.Tagged{{ID: "1", Text: "A lighthouse at dusk"}}, nil
	}
	story := testsupport.NewStory(t, f.store, queue.Story{SourceText: "x", Mood: "gloomy watercolor"})
	f.seedScenes(t, story.ID,
		queue.Scene{Text: "The keeper lit the lamp.", HasImage: true, ImageIndex: 1},
		queue.Scene{Text: "Waves crashed below."},
		queue.Scene{Text: "A ship appeared through the storm.", HasImage: true, ImageIndex: 2},
	)

	result, err := steps.NewPrompter(f.env).Execute(context.Background(), story)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	scenes := f.scenes(t, story.ID)
	if scenes[0].VisualPrompt != "A lighthouse at dusk" {
		t.Fatalf("scene 1 prompt %q", scenes[0].VisualPrompt)
	}
	if scenes[1].VisualPrompt != "" {
		t.Fatalf("scene without image should not get a prompt: %q", scenes[1].VisualPrompt)
	}
	fallback := scenes[2].VisualPrompt
	if !strings.Contains(fallback, "A ship appeared through the storm.") || !strings.Contains(fallback, "gloomy watercolor") {
		t.Fatalf("unexpected fallback prompt %q", fallback)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one fallback warning, got %v", result.Warnings)
	}
	if got := f.llm.BatchCalls[0]; len(got) != 2 {
		t.Fatalf("only image scenes should be batched, got %d items", len(got))
	}
}

func TestIllustratorRecordsFailuresAndContinues(t *testing.T) {
	f := newFixture(t)
	f.images.Fail = func(req imagegen.Request) error {
		if req.Seed == imagegen.SeedForImage(2) {
			return errors.New("content policy rejection")
		}
		return nil
	}
	story := testsupport.NewStory(t, f.store, queue.Story{SourceText: "x"})
	f.seedScenes(t, story.ID,
		queue.Scene{Text: "one", HasImage: true, ImageIndex: 1, VisualPrompt: "p1"},
		queue.Scene{Text: "two", HasImage: true, ImageIndex: 2, VisualPrompt: "p2"},
		queue.Scene{Text: "three"},
		queue.Scene{Text: "four", HasImage: true, ImageIndex: 3},
	)

	result, err := steps.NewIllustrator(f.env).Execute(context.Background(), story)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Degraded) != 1 || result.Degraded[0].SceneNumber != 2 || result.Degraded[0].Media != "image" {
		t.Fatalf("unexpected degraded %+v", result.Degraded)
	}
	if f.images.Calls() != 3 {
		t.Fatalf("expected 3 image calls (non-retryable failure), got %d", f.images.Calls())
	}
	scenes := f.scenes(t, story.ID)
	for _, n := range []int{0, 3} {
		sc := scenes[n]
		if sc.ImageStatus != queue.SceneCompleted || sc.ImagePath == "" {
			t.Fatalf("scene %d not completed: %+v", sc.Number, sc)
		}
		if _, err := os.Stat(sc.ImagePath); err != nil {
			t.Fatalf("scene %d image missing: %v", sc.Number, err)
		}
	}
	if scenes[1].ImageStatus != queue.SceneFailed || scenes[1].Status != queue.SceneFailed {
		t.Fatalf("scene 2 should be failed: %+v", scenes[1])
	}
	if !strings.Contains(scenes[1].ErrorMessage, "content policy rejection") {
		t.Fatalf("scene 2 error not recorded: %q", scenes[1].ErrorMessage)
	}
	if scenes[2].ImageStatus != queue.ScenePending {
		t.Fatalf("scene without image slot should stay pending, got %s", scenes[2].ImageStatus)
	}
}

func TestIllustratorReusesCompletedImages(t *testing.T) {
	f := newFixture(t)
	story := testsupport.NewStory(t, f.store, queue.Story{SourceText: "x"})
	f.seedScenes(t, story.ID,
		queue.Scene{Text: "one", HasImage: true, ImageIndex: 1},
		queue.Scene{Text: "two", HasImage: true, ImageIndex: 2},
	)
	il := steps.NewIllustrator(f.env)
	if _, err := il.Execute(context.Background(), story); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := il.Execute(context.Background(), story); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if f.images.Calls() != 2 {
		t.Fatalf("expected completed images to be reused, got %d calls", f.images.Calls())
	}
}

func TestNarratorMissingVoiceIsConfiguration(t *testing.T) {
	f := newFixture(t, testsupport.WithDefaultVoice(""))
	err := steps.NewNarrator(f.env).Prepare(context.Background(), &queue.Story{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if f.narration.Calls() != 0 {
		t.Fatal("no narration call should be made without a voice")
	}
}

func TestNarratorRendersEveryScene(t *testing.T) {
	f := newFixture(t)
	f.narration.Duration = 3 * time.Second
	f.narration.Fail = func(req narration.Request) error {
		if req.Text == "two" {
			return services.Wrap(services.ErrValidation, "", "tts", "text rejected", nil)
		}
		return nil
	}
	story := testsupport.NewStory(t, f.store, queue.Story{SourceText: "x", VoiceID: "narrator-7"})
	f.seedScenes(t, story.ID,
		queue.Scene{Text: "one", HasImage: true, ImageIndex: 1},
		queue.Scene{Text: "two"},
		queue.Scene{Text: "three"},
	)
	n := steps.NewNarrator(f.env)
	if err := n.Prepare(context.Background(), story); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	result, err := n.Execute(context.Background(), story)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Degraded) != 1 || result.Degraded[0].SceneNumber != 2 {
		t.Fatalf("unexpected degraded %+v", result.Degraded)
	}
	for _, voice := range f.narration.Voices {
		if voice != "narrator-7" {
			t.Fatalf("story voice should override default, got %q", voice)
		}
	}
	scenes := f.scenes(t, story.ID)
	if scenes[2].AudioStatus != queue.SceneCompleted || scenes[2].ActualDuration != 3*time.Second {
		t.Fatalf("scene 3 audio not recorded: %+v", scenes[2])
	}
	if scenes[2].Status != queue.SceneCompleted {
		t.Fatalf("scene 3 without image should be completed, got %s", scenes[2].Status)
	}
	if scenes[0].Status == queue.SceneCompleted {
		t.Fatal("scene 1 still needs its image")
	}
}

func TestBundlerRecordsArchivePath(t *testing.T) {
	f := newFixture(t)
	story := testsupport.NewStory(t, f.store, queue.Story{SourceText: "x"})
	story.AdaptedText = "Hola."
	f.seedScenes(t, story.ID, queue.Scene{Text: "Hola.", HasImage: true, ImageIndex: 1})
	b := steps.NewBundler(f.env)
	if err := b.Prepare(context.Background(), story); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := b.Execute(context.Background(), story); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if story.ArchivePath == "" {
		t.Fatal("archive path not set")
	}
	if _, err := os.Stat(story.ArchivePath); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
}

func TestHandlersCoverEveryStep(t *testing.T) {
	f := newFixture(t)
	handlers := steps.Handlers(f.env)
	for name, h := range handlers {
		if health := h.HealthCheck(context.Background()); !health.Ready {
			t.Fatalf("%s not ready: %s", name, health.Detail)
		}
	}
	if len(handlers) != 8 {
		t.Fatalf("expected 8 handlers, got %d", len(handlers))
	}
}
