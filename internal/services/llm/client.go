package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"resty.dev/v3"

	"storyreel/internal/batcher"
	"storyreel/internal/services"
)

const (
	defaultOpenRouter = "https://openrouter.ai/api/v1/chat/completions"
	providerName      = "openrouter"
)

// Client talks to an OpenRouter-compatible chat completions endpoint.
// BaseURL is the full completions URL.
type Client struct {
	cfg  Config
	http *resty.Client
}

// NewClient builds the OpenRouter variant.
func NewClient(cfg Config) *Client {
	cfg = cfg.normalized()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouter
	}
	h := resty.New().
		SetTimeout(cfg.timeout()).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		h.SetAuthToken(cfg.APIKey)
	}
	if cfg.Referer != "" {
		h.SetHeader("HTTP-Referer", cfg.Referer)
		h.SetHeader("Referer", cfg.Referer)
	}
	if cfg.Title != "" {
		h.SetHeader("X-Title", cfg.Title)
	}
	return &Client{cfg: cfg, http: h}
}

// Close releases idle connections.
func (c *Client) Close() error { return c.http.Close() }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

// chatChoice accepts the shapes seen across routed providers: a plain
// message, a streaming delta with stream=false, legacy text, or tool-call arguments.
type chatChoice struct {
	Message      choiceBody `json:"message"`
	Delta        choiceBody `json:"delta"`
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason"`
}

type choiceBody struct {
	Content   string `json:"content"`
	Refusal   string `json:"refusal"`
	ToolCalls []struct {
		Function struct {
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

func (b choiceBody) arguments() string {
	for _, call := range b.ToolCalls {
		if args := strings.TrimSpace(call.Function.Arguments); args != "" {
			return args
		}
	}
	return ""
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CompleteText sends one system+user exchange.
func (c *Client) CompleteText(ctx context.Context, req TextRequest) (string, error) {
	const op = "llm complete"
	if err := validatePrompts(op, req.System, req.User); err != nil {
		return "", err
	}
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "", op, "api key required", nil)
	}
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: strings.TrimSpace(req.System)},
			{Role: "user", Content: strings.TrimSpace(req.User)},
		},
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	parsed, raw, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	empty := &emptyContentError{Op: op, Snippet: snippet(raw)}
	for _, choice := range parsed.Choices {
		if empty.FinishReason == "" {
			empty.FinishReason = strings.TrimSpace(choice.FinishReason)
		}
		if empty.Refusal == "" {
			empty.Refusal = firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal)
		}
		if text := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text,
			choice.Message.arguments(), choice.Delta.arguments()); text != "" {
			return text, nil
		}
	}
	return "", empty
}

// CompleteBatch sends tagged items in one JSON-mode call and decodes the tagged results.
func (c *Client) CompleteBatch(ctx context.Context, systemPrompt string, items []batcher.Tagged) ([]batcher.Tagged, error) {
	if len(items) == 0 {
		return nil, nil
	}
	user, err := BatchUserPrompt(items)
	if err != nil {
		return nil, err
	}
	content, err := c.CompleteText(ctx, TextRequest{System: systemPrompt, User: user, JSONMode: true})
	if err != nil {
		return nil, err
	}
	return DecodeBatch(content)
}

func (c *Client) post(ctx context.Context, body chatRequest) (chatResponse, string, error) {
	var parsed chatResponse
	req := c.http.R().SetContext(ctx).SetBody(body)
	if id, ok := services.RequestIDFromContext(ctx); ok {
		req.SetHeader("X-Request-ID", id)
	}
	resp, err := req.Post(c.cfg.BaseURL)
	if err != nil {
		return parsed, "", fmt.Errorf("llm request (timeout=%s): %w", c.cfg.timeout(), err)
	}
	raw := resp.String()
	if resp.StatusCode() >= 300 {
		return parsed, raw, services.NewStatusError(providerName, resp.StatusCode(), raw, resp.Header())
	}
	if err := json.Unmarshal(resp.Bytes(), &parsed); err != nil {
		return parsed, raw, services.Wrap(services.ErrValidation, "", "llm request", "decode response", err)
	}
	if parsed.Error != nil {
		return parsed, raw, services.Wrap(services.ErrTransient, "", "llm request",
			"api error: "+strings.TrimSpace(parsed.Error.Message), nil)
	}
	return parsed, raw, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
