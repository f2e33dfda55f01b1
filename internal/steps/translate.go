package steps

import (
	"context"
	"strings"

	"storyreel/internal/language"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/stage"
)

// Translator renders the source text in the target language.
type Translator struct {
	base
}

// NewTranslator constructs the translate handler.
func NewTranslator(env Env) *Translator {
	return &Translator{base: newBase(env, stage.Translate)}
}

func (t *Translator) Prepare(ctx context.Context, story *queue.Story) error {
	if strings.TrimSpace(story.TargetLanguage) == "" {
		return services.Wrap(services.ErrValidation, t.step, "validate inputs", "story has no target language", nil)
	}
	if language.Same(story.EffectiveSourceLanguage(), story.TargetLanguage) {
		return nil
	}
	return t.requireLLM()
}

func (t *Translator) Execute(ctx context.Context, story *queue.Story) (stage.Result, error) {
	source := story.EffectiveSourceLanguage()
	if language.Same(source, story.TargetLanguage) {
		story.TranslatedText = story.SourceText
		t.log(ctx).Info("source already in target language; copying text",
			logging.String("language", story.TargetLanguage),
		)
		return stage.Result{Summary: "copied (source matches target)"}, nil
	}
	text, result, err := t.rewrite(ctx, story, story.SourceText, rewriteOptions{
		system:    translatePrompt(source, story.TargetLanguage),
		checkEcho: true,
	})
	if err != nil {
		return stage.Result{}, err
	}
	story.TranslatedText = text
	return result, nil
}

func (t *Translator) HealthCheck(context.Context) stage.Health {
	return t.llmHealth()
}

// Adapter rewrites the translated text for the target locale.
type Adapter struct {
	base
}

// NewAdapter constructs the adapt handler.
func NewAdapter(env Env) *Adapter {
	return &Adapter{base: newBase(env, stage.Adapt)}
}

func (a *Adapter) Prepare(ctx context.Context, story *queue.Story) error {
	if strings.TrimSpace(adaptInput(story)) == "" {
		return services.Wrap(services.ErrValidation, a.step, "validate inputs", "no translated text to adapt", nil)
	}
	return a.requireLLM()
}

func (a *Adapter) Execute(ctx context.Context, story *queue.Story) (stage.Result, error) {
	text, result, err := a.rewrite(ctx, story, adaptInput(story), rewriteOptions{
		system: adaptPrompt(story.TargetLanguage, language.Locale(story.TargetLocale)),
	})
	if err != nil {
		return stage.Result{}, err
	}
	story.AdaptedText = text
	return result, nil
}

func (a *Adapter) HealthCheck(context.Context) stage.Health {
	return a.llmHealth()
}

func adaptInput(story *queue.Story) string {
	if strings.TrimSpace(story.TranslatedText) != "" {
		return story.TranslatedText
	}
	return story.SourceText
}
