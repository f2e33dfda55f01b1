package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"storyreel/internal/batcher"
	"storyreel/internal/services"
)

const defaultHTTPTimeout = 60 * time.Second

// Provider is the closed set of text-completion operations the pipeline needs.
type Provider interface {
	CompleteText(ctx context.Context, req TextRequest) (string, error)
	CompleteBatch(ctx context.Context, systemPrompt string, items []batcher.Tagged) ([]batcher.Tagged, error)
}

// TextRequest is a single-turn completion.
type TextRequest struct {
	System      string
	User        string
	Temperature float64
	JSONMode    bool
}

// Config captures the runtime settings required to talk to the LLM.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

func (c Config) normalized() Config {
	return Config{
		APIKey:         strings.TrimSpace(c.APIKey),
		BaseURL:        strings.TrimSpace(c.BaseURL),
		Model:          strings.TrimSpace(c.Model),
		Referer:        strings.TrimSpace(c.Referer),
		Title:          strings.TrimSpace(c.Title),
		TimeoutSeconds: c.TimeoutSeconds,
	}
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultHTTPTimeout
}

// BatchResponse is the structured payload expected from a batch call.
type BatchResponse struct {
	Items []batcher.Tagged `json:"items" jsonschema_description:"One entry per input item, reusing the input id"`
}

const batchInstructions = `You will receive a JSON object {"items":[{"id":"...","text":"..."}]}.
Process every item independently according to the system instructions.
Respond with JSON only, shaped exactly as {"items":[{"id":"<same id>","text":"<result>"}]}.
Return one entry per input id and do not merge, split, or drop items.`

// BatchUserPrompt renders tagged items into the user message of a batch call.
func BatchUserPrompt(items []batcher.Tagged) (string, error) {
	encoded, err := json.Marshal(BatchResponse{Items: items})
	if err != nil {
		return "", fmt.Errorf("encode batch items: %w", err)
	}
	return batchInstructions + "\n\n" + string(encoded), nil
}

// DecodeBatch parses a batch completion into tagged items.
func DecodeBatch(content string) ([]batcher.Tagged, error) {
	var parsed BatchResponse
	if err := DecodeJSON(content, &parsed); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "decode batch response", "malformed batch payload", err)
	}
	return parsed.Items, nil
}

// HealthCheck issues a fast JSON ping to verify the API key and model are usable.
func HealthCheck(ctx context.Context, provider Provider) error {
	content, err := provider.CompleteText(ctx, TextRequest{
		System:   "You must respond with JSON only.",
		User:     `Respond with {"ok":true}`,
		JSONMode: true,
	})
	if err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("llm health: unexpected response %s", snippet(content))
	}
	return nil
}

func validatePrompts(op, system, user string) error {
	if strings.TrimSpace(system) == "" {
		return services.Wrap(services.ErrValidation, "", op, "system prompt required", nil)
	}
	if strings.TrimSpace(user) == "" {
		return services.Wrap(services.ErrValidation, "", op, "user prompt required", nil)
	}
	return nil
}

type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf(
		"%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op,
		e.FinishReason,
		e.Refusal,
		e.Snippet,
	)
}

// Unwrap marks empty completions as transient so backoff retries them.
func (e *emptyContentError) Unwrap() error { return services.ErrTransient }
