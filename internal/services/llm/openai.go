package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"storyreel/internal/batcher"
	"storyreel/internal/services"
)

const openAIProviderName = "openai"

// GenerateSchema reflects a strict JSON schema for structured outputs.
func GenerateSchema[T any]() any {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var batchResponseSchema = GenerateSchema[BatchResponse]()

// OpenAIClient implements Provider with the official SDK.
type OpenAIClient struct {
	cfg    Config
	client openai.Client
}

// NewOpenAIClient builds the SDK-backed variant. SDK-level retries are disabled so
// backoff.Retry stays the single retry layer.
func NewOpenAIClient(cfg Config, extra ...option.RequestOption) *OpenAIClient {
	cfg = cfg.normalized()
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.timeout()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)
	return &OpenAIClient{cfg: cfg, client: openai.NewClient(opts...)}
}

// CompleteText implements Provider.
func (c *OpenAIClient) CompleteText(ctx context.Context, req TextRequest) (string, error) {
	if err := validatePrompts("openai complete", req.System, req.User); err != nil {
		return "", err
	}
	params := c.baseParams(req.System, req.User, req.Temperature)
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	return c.complete(ctx, params, "openai complete")
}

// CompleteBatch implements Provider using a strict schema response format.
func (c *OpenAIClient) CompleteBatch(ctx context.Context, systemPrompt string, items []batcher.Tagged) ([]batcher.Tagged, error) {
	if len(items) == 0 {
		return nil, nil
	}
	user, err := BatchUserPrompt(items)
	if err != nil {
		return nil, err
	}
	if err := validatePrompts("openai batch", systemPrompt, user); err != nil {
		return nil, err
	}
	params := c.baseParams(systemPrompt, user, 0)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        "tagged_items",
				Description: openai.String("Results keyed by the input item ids"),
				Schema:      batchResponseSchema,
				Strict:      openai.Bool(true),
			},
		},
	}
	content, err := c.complete(ctx, params, "openai batch")
	if err != nil {
		return nil, err
	}
	return DecodeBatch(content)
}

func (c *OpenAIClient) baseParams(system, user string, temperature float64) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(strings.TrimSpace(system)),
			openai.UserMessage(strings.TrimSpace(user)),
		},
		Model:       openai.ChatModel(c.cfg.Model),
		Temperature: openai.Float(temperature),
	}
}

func (c *OpenAIClient) complete(ctx context.Context, params openai.ChatCompletionNewParams, op string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "", op, "api key required", nil)
	}
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			statusErr := services.NewStatusError(openAIProviderName, apiErr.StatusCode, apiErr.Message, nil)
			if apiErr.Response != nil {
				statusErr.RetryAfter, _ = services.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return "", statusErr
		}
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", &emptyContentError{Op: op, Snippet: "<no choices>"}
	}
	choice := completion.Choices[0]
	if content := strings.TrimSpace(choice.Message.Content); content != "" {
		return content, nil
	}
	return "", &emptyContentError{
		Op:           op,
		FinishReason: string(choice.FinishReason),
		Refusal:      choice.Message.Refusal,
		Snippet:      "<empty>",
	}
}
