// Package providers selects the LLM, image, and narration variants from
// configuration. A Set is built once per run and closed when the run ends.
package providers

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"storyreel/internal/config"
	"storyreel/internal/services"
	"storyreel/internal/services/imagegen"
	"storyreel/internal/services/llm"
	"storyreel/internal/services/narration"
	"storyreel/internal/tokens"
)

// Set is the provider bundle used by one pipeline run.
type Set struct {
	LLM       llm.Provider
	Images    imagegen.Generator
	Narration narration.Generator
	Estimator tokens.Estimator

	closers []io.Closer
}

// Close releases provider resources.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Factory builds a provider Set.
type Factory interface {
	Build(cfg *config.Config) (*Set, error)
}

// FromConfig builds providers from the configured variants.
type FromConfig struct{}

// Build implements Factory.
func (FromConfig) Build(cfg *config.Config) (*Set, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "build providers", "config is required", nil)
	}
	set := &Set{}

	switch strings.TrimSpace(cfg.LLM.Provider) {
	case config.LLMProviderOpenRouter, "":
		client := llm.NewClient(llmConfig(cfg))
		set.LLM = client
		set.closers = append(set.closers, client)
	case config.LLMProviderOpenAI:
		set.LLM = llm.NewOpenAIClient(llmConfig(cfg))
	default:
		return nil, unknownVariant("llm", cfg.LLM.Provider)
	}

	switch strings.TrimSpace(cfg.Images.Provider) {
	case config.ImageProviderHTTP:
		gen := imagegen.NewHTTPGenerator(imagegen.Config{
			APIKey:         cfg.Images.APIKey,
			BaseURL:        cfg.Images.BaseURL,
			Model:          cfg.Images.Model,
			TimeoutSeconds: cfg.Images.TimeoutSeconds,
		})
		set.Images = gen
		set.closers = append(set.closers, gen)
	case config.ImageProviderPlaceholder:
		set.Images = imagegen.PlaceholderGenerator{}
	default:
		_ = set.Close()
		return nil, unknownVariant("images", cfg.Images.Provider)
	}

	ttsConfig := narration.Config{
		APIKey:         cfg.Narration.APIKey,
		BaseURL:        cfg.Narration.BaseURL,
		Model:          cfg.Narration.Model,
		AudioFormat:    cfg.Narration.AudioFormat,
		WordsPerMinute: cfg.Narration.WordsPerMinute,
		TimeoutSeconds: cfg.Narration.TimeoutSeconds,
	}
	var tts *narration.Client
	switch strings.TrimSpace(cfg.Narration.Provider) {
	case config.NarrationProviderRemote:
		tts = narration.NewRemote(ttsConfig)
	case config.NarrationProviderLocal:
		tts = narration.NewLocal(ttsConfig)
	default:
		_ = set.Close()
		return nil, unknownVariant("narration", cfg.Narration.Provider)
	}
	set.Narration = tts
	set.closers = append(set.closers, tts)

	estimator, err := tokens.FromConfig(cfg.Chunking)
	if err != nil {
		_ = set.Close()
		return nil, services.Wrap(services.ErrConfiguration, "", "load tokenizer", "chunking.tokenizer_file could not be loaded", err)
	}
	set.Estimator = estimator
	return set, nil
}

// Static returns the same Set for every build. Closing it is left to the caller.
type Static struct {
	LLM       llm.Provider
	Images    imagegen.Generator
	Narration narration.Generator
	Estimator tokens.Estimator
}

// Build implements Factory.
func (s Static) Build(*config.Config) (*Set, error) {
	return &Set{LLM: s.LLM, Images: s.Images, Narration: s.Narration, Estimator: s.Estimator}, nil
}

func llmConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	}
}

func unknownVariant(section, value string) error {
	return services.Wrap(services.ErrConfiguration, "", "build providers", fmt.Sprintf("unknown %s provider %q", section, value), nil)
}
