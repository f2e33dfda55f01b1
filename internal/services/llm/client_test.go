package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"

	"storyreel/internal/batcher"
	"storyreel/internal/services"
)

func completionServer(t *testing.T, inspect func(payload map[string]any), content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(payload)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientCompleteTextJSONMode(t *testing.T) {
	var sawFormat bool
	server := completionServer(t, func(payload map[string]any) {
		format, _ := payload["response_format"].(map[string]any)
		sawFormat = format["type"] == "json_object"
		if payload["model"] != "demo-model" {
			t.Errorf("unexpected model %v", payload["model"])
		}
	}, `{"language":"fr"}`)

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteText(context.Background(), TextRequest{System: "detect", User: "Bonjour", JSONMode: true})
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if content != `{"language":"fr"}` || !sawFormat {
		t.Fatalf("unexpected content %q (json mode sent=%v)", content, sawFormat)
	}
}

func TestClientCompleteTextOmitsFormatForPlainText(t *testing.T) {
	server := completionServer(t, func(payload map[string]any) {
		if _, ok := payload["response_format"]; ok {
			t.Errorf("plain text request should not set response_format")
		}
	}, "Hola")
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	if _, err := client.CompleteText(context.Background(), TextRequest{System: "translate", User: "Hello"}); err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
}

func TestClientSendsAttributionHeaders(t *testing.T) {
	var auth, title, requestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		title = r.Header.Get("X-Title")
		requestID = r.Header.Get("X-Request-ID")
		_, _ = io.WriteString(w, `{"choices":[{"delta":{"content":"streamed shape"}}]}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "secret", BaseURL: server.URL, Title: "storyreel"})
	defer client.Close()
	ctx := services.WithRequestID(context.Background(), "req-9")
	content, err := client.CompleteText(ctx, TextRequest{System: "s", User: "u"})
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if content != "streamed shape" {
		t.Fatalf("delta content not used: %q", content)
	}
	if auth != "Bearer secret" || title != "storyreel" || requestID != "req-9" {
		t.Fatalf("unexpected headers auth=%q title=%q request=%q", auth, title, requestID)
	}
}

func TestClientCompleteBatchDecodesCodeFence(t *testing.T) {
	server := completionServer(t, func(payload map[string]any) {
		messages, _ := payload["messages"].([]any)
		user, _ := messages[1].(map[string]any)
		if !strings.Contains(user["content"].(string), `"id":"2"`) {
			t.Errorf("user prompt missing tagged items: %v", user["content"])
		}
	}, "```json\n{\"items\":[{\"id\":\"2\",\"text\":\"deux\"},{\"id\":\"1\",\"text\":\"un\"}]}\n```")

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	items, err := client.CompleteBatch(context.Background(), "translate", []batcher.Tagged{{ID: "1", Text: "one"}, {ID: "2", Text: "two"}})
	if err != nil {
		t.Fatalf("CompleteBatch: %v", err)
	}
	if len(items) != 2 || items[0].ID != "2" || items[1].Text != "un" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestClientCompleteBatchMalformedIsValidation(t *testing.T) {
	server := completionServer(t, nil, "not json at all")
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	_, err := client.CompleteBatch(context.Background(), "translate", []batcher.Tagged{{ID: "1", Text: "one"}})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClientStatusErrorCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"rate limited"}`)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	_, err := client.CompleteText(context.Background(), TextRequest{System: "s", User: "u"})
	var statusErr *services.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected status error, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || statusErr.RetryAfter != 3*time.Second {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if !statusErr.Retryable() {
		t.Fatal("429 should be retryable")
	}
}

func TestClientEmptyContentIsTransient(t *testing.T) {
	server := completionServer(t, nil, "")
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	_, err := client.CompleteText(context.Background(), TextRequest{System: "s", User: "u"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.CompleteText(context.Background(), TextRequest{System: "s", User: "u"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	server := completionServer(t, nil, "```json\n{\"ok\":true}\n```")
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	if err := HealthCheck(context.Background(), client); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOpenAIClientCompleteBatchUsesSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		format, _ := payload["response_format"].(map[string]any)
		if format["type"] != "json_schema" {
			t.Errorf("expected json_schema response format, got %v", format["type"])
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 0,
			"model":   "gpt-test",
			"choices": []any{
				map[string]any{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": `{"items":[{"id":"a","text":"alpha"}]}`,
					},
				},
			},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{APIKey: "test", Model: "gpt-test", BaseURL: server.URL + "/"}, option.WithHTTPClient(server.Client()))
	items, err := client.CompleteBatch(context.Background(), "prompt", []batcher.Tagged{{ID: "a", Text: "a"}})
	if err != nil {
		t.Fatalf("CompleteBatch: %v", err)
	}
	if len(items) != 1 || items[0].Text != "alpha" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestDecodeJSONHandlesProse(t *testing.T) {
	var parsed struct {
		Language string `json:"language"`
	}
	if err := DecodeJSON("Sure! Here you go: {\"language\":\"de\"} hope that helps", &parsed); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if parsed.Language != "de" {
		t.Fatalf("unexpected language %q", parsed.Language)
	}
	if err := DecodeJSON("   ", &parsed); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if err := DecodeJSON("Here it is:\n```\n{\"language\":\"it\"}\n```\nanything else?", &parsed); err != nil || parsed.Language != "it" {
		t.Fatalf("fenced block after prose: %q %v", parsed.Language, err)
	}
	if err := DecodeJSON("no json here", &parsed); err == nil || !strings.Contains(err.Error(), "no json here") {
		t.Fatalf("expected error with payload snippet, got %v", err)
	}
}
