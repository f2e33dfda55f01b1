package steps

import (
	"context"
	"fmt"
	"strings"

	"storyreel/internal/chunker"
	"storyreel/internal/language"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/services/llm"
	"storyreel/internal/stage"
	"storyreel/internal/transcript"
)

// Detector resolves the story's source language.
type Detector struct {
	base
}

// NewDetector constructs the detect-language handler.
func NewDetector(env Env) *Detector {
	return &Detector{base: newBase(env, stage.DetectLanguage)}
}

func (d *Detector) Prepare(ctx context.Context, story *queue.Story) error {
	if strings.TrimSpace(story.SourceText) == "" {
		return services.Wrap(services.ErrValidation, d.step, "validate inputs", "story has no source text", nil)
	}
	if strings.TrimSpace(story.SourceLanguage) != "" {
		return nil
	}
	return d.requireLLM()
}

func (d *Detector) Execute(ctx context.Context, story *queue.Story) (stage.Result, error) {
	logger := d.log(ctx)
	if declared := strings.TrimSpace(story.SourceLanguage); declared != "" {
		code, ok := language.Normalize(declared)
		if !ok {
			return stage.Result{}, services.Wrap(services.ErrValidation, d.step, "normalize language", fmt.Sprintf("unrecognized source language %q", declared), nil)
		}
		story.DetectedLanguage = code
		logger.Info("using declared source language", logging.String("language", code))
		return stage.Result{Summary: "declared " + code}, nil
	}

	sample, err := d.sample(story)
	if err != nil {
		return stage.Result{}, err
	}
	content, err := call(ctx, &d.base, "detect language", func(ctx context.Context) (string, error) {
		return d.env.LLM.CompleteText(ctx, llm.TextRequest{
			System:   detectLanguagePrompt,
			User:     sample,
			JSONMode: true,
		})
	})
	if err != nil {
		return stage.Result{}, err
	}
	var parsed struct {
		Language string `json:"language"`
	}
	if err := llm.DecodeJSON(content, &parsed); err != nil {
		return stage.Result{}, services.Wrap(services.ErrValidation, d.step, "decode language", "malformed detection response", err)
	}
	code, ok := language.Normalize(parsed.Language)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrValidation, d.step, "normalize language", fmt.Sprintf("provider returned unrecognized language %q", parsed.Language), nil)
	}
	story.DetectedLanguage = code
	logger.Info("source language detected",
		logging.String("language", code),
		logging.String("language_name", language.DisplayName(code)),
	)
	return stage.Result{Summary: "detected " + code}, nil
}

// sample returns the first chunk of narration text, without timestamps.
func (d *Detector) sample(story *queue.Story) (string, error) {
	text := story.SourceText
	if story.Format == queue.FormatTranscript {
		segments, err := transcript.Parse(text, 0)
		if err != nil {
			return "", err
		}
		texts := make([]string, len(segments))
		for i, seg := range segments {
			texts[i] = seg.Text
		}
		text = strings.Join(texts, "\n\n")
	}
	cfg := d.env.Config.Chunking
	chunks, err := chunker.Split(text, cfg.ModelTokenLimit, cfg.ReservedTokens, d.env.Estimator)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", services.Wrap(services.ErrValidation, d.step, "sample text", "story has no source text", nil)
	}
	return chunks[0].Text, nil
}

func (d *Detector) HealthCheck(context.Context) stage.Health {
	return d.llmHealth()
}
