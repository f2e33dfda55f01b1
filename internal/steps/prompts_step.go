package steps

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"storyreel/internal/batcher"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/stage"
	"storyreel/internal/textutil"
)

const fallbackKeywords = 5

// Prompter writes a visual prompt for every image scene.
type Prompter struct {
	base
}

// NewPrompter constructs the generate-prompts handler.
func NewPrompter(env Env) *Prompter {
	return &Prompter{base: newBase(env, stage.GeneratePrompts)}
}

func (p *Prompter) Prepare(ctx context.Context, story *queue.Story) error {
	return p.requireLLM()
}

func (p *Prompter) Execute(ctx context.Context, story *queue.Story) (stage.Result, error) {
	scenes, err := loadScenes(ctx, p.env.Store, p.step, story.ID)
	if err != nil {
		return stage.Result{}, err
	}
	byNumber := make(map[string]*queue.Scene, len(scenes))
	var items []batcher.Tagged
	for i := range scenes {
		sc := &scenes[i]
		if !sc.HasImage {
			continue
		}
		id := strconv.Itoa(sc.Number)
		byNumber[id] = sc
		items = append(items, batcher.Tagged{ID: id, Text: sc.NarrationText()})
	}
	if len(items) == 0 {
		return stage.Result{Summary: "no image scenes"}, nil
	}

	system := visualPrompt(story.Mood)
	outcome, err := batcher.Run(ctx, items, p.env.Config.Chunking.BatchTokenBudget, p.env.Estimator, func(ctx context.Context, batch batcher.Batch[batcher.Tagged]) ([]batcher.Tagged, error) {
		return call(ctx, &p.base, "complete batch", func(ctx context.Context) ([]batcher.Tagged, error) {
			return p.env.LLM.CompleteBatch(ctx, system, batch.Items)
		})
	})
	if err != nil {
		return stage.Result{}, err
	}

	fallback := make(map[string]struct{}, len(outcome.Fallbacks))
	for _, id := range outcome.Fallbacks {
		fallback[id] = struct{}{}
	}
	var result stage.Result
	for _, item := range outcome.Items {
		sc, ok := byNumber[item.ID]
		if !ok {
			continue
		}
		if _, missing := fallback[item.ID]; missing {
			sc.VisualPrompt = FallbackPrompt(sc.NarrationText(), story.Mood)
			result.Warnings = append(result.Warnings, fmt.Sprintf("scene %d uses a fallback prompt", sc.Number))
		} else {
			sc.VisualPrompt = strings.TrimSpace(item.Text)
		}
		if err := p.env.Store.UpdateScene(ctx, sc); err != nil {
			return stage.Result{}, fmt.Errorf("persist scene %d prompt: %w", sc.Number, err)
		}
	}
	if len(outcome.Fallbacks) > 0 {
		logging.WarnWithContext(p.log(ctx), "visual prompts fell back to scene text",
			"prompt_fallback",
			logging.Int("fallback_count", len(outcome.Fallbacks)),
			logging.String(logging.FieldImpact, "images for those scenes follow the narration text"),
		)
	}
	result.Summary = fmt.Sprintf("%d prompt(s), %d fallback(s)", len(items), len(outcome.Fallbacks))
	return result, nil
}

func (p *Prompter) HealthCheck(context.Context) stage.Health {
	return p.llmHealth()
}

// FallbackPrompt builds a visual prompt from scene text when the provider
// returned none: the text itself, its salient keywords, and the mood hint.
func FallbackPrompt(text, mood string) string {
	parts := []string{"Illustration of: " + strings.TrimSpace(text)}
	if keywords := textutil.Keywords(text, fallbackKeywords); len(keywords) > 0 {
		parts = append(parts, "Focus on "+strings.Join(keywords, ", "))
	}
	if mood = strings.TrimSpace(mood); mood != "" {
		parts = append(parts, "Mood: "+mood)
	}
	return strings.Join(parts, ". ") + "."
}
