package providers_test

import (
	"errors"
	"testing"

	"storyreel/internal/config"
	"storyreel/internal/providers"
	"storyreel/internal/services"
	"storyreel/internal/services/imagegen"
	"storyreel/internal/services/llm"
	"storyreel/internal/services/narration"
	"storyreel/internal/testsupport"
	"storyreel/internal/tokens"
)

func TestFromConfigSelectsVariants(t *testing.T) {
	tests := []struct {
		name      string
		llm       string
		images    string
		narration string
		check     func(t *testing.T, set *providers.Set)
	}{
		{
			name: "openrouter remote placeholder", llm: config.LLMProviderOpenRouter, images: config.ImageProviderPlaceholder, narration: config.NarrationProviderRemote,
			check: func(t *testing.T, set *providers.Set) {
				if _, ok := set.LLM.(*llm.Client); !ok {
					t.Fatalf("expected openrouter client, got %T", set.LLM)
				}
				if _, ok := set.Images.(imagegen.PlaceholderGenerator); !ok {
					t.Fatalf("expected placeholder images, got %T", set.Images)
				}
				if c, ok := set.Narration.(*narration.Client); !ok || c.Variant() != narration.VariantRemote {
					t.Fatalf("expected remote narration, got %T", set.Narration)
				}
			},
		},
		{
			name: "openai local http", llm: config.LLMProviderOpenAI, images: config.ImageProviderHTTP, narration: config.NarrationProviderLocal,
			check: func(t *testing.T, set *providers.Set) {
				if _, ok := set.LLM.(*llm.OpenAIClient); !ok {
					t.Fatalf("expected openai client, got %T", set.LLM)
				}
				if _, ok := set.Images.(*imagegen.HTTPGenerator); !ok {
					t.Fatalf("expected http images, got %T", set.Images)
				}
				if c, ok := set.Narration.(*narration.Client); !ok || c.Variant() != narration.VariantLocal {
					t.Fatalf("expected local narration, got %T", set.Narration)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			cfg.LLM.Provider = tt.llm
			cfg.Images.Provider = tt.images
			cfg.Narration.Provider = tt.narration
			set, err := providers.FromConfig{}.Build(cfg)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			defer set.Close()
			tt.check(t, set)
			if _, ok := set.Estimator.(tokens.CharEstimator); !ok {
				t.Fatalf("expected char estimator, got %T", set.Estimator)
			}
		})
	}
}

func TestFromConfigRejectsUnknownVariant(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Narration.Provider = "carrier-pigeon"
	_, err := providers.FromConfig{}.Build(cfg)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStaticReturnsInjectedProviders(t *testing.T) {
	fake := &testsupport.FakeLLM{}
	set, err := providers.Static{LLM: fake}.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.LLM != fake {
		t.Fatal("static factory should return the injected provider")
	}
	if err := set.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
