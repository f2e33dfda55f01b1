// Package imagegen provides the scene image providers.
package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"

	"storyreel/internal/placeholder"
	"storyreel/internal/services"
)

const (
	providerName          = "images"
	defaultTimeout        = 120 * time.Second
	defaultPlaceholderDim = 1280
)

// Request describes one image.
type Request struct {
	Prompt      string
	AspectRatio string
	Seed        int64
}

// Generator produces encoded image bytes for a prompt.
type Generator interface {
	GenerateImage(ctx context.Context, req Request) ([]byte, error)
}

// SeedForImage derives the deterministic seed for a 1-based image index.
func SeedForImage(imageIndex int) int64 {
	return int64(imageIndex)*42 + 7
}

// Config captures HTTP provider settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// HTTPGenerator calls a JSON image endpoint that answers with base64 data or a URL.
type HTTPGenerator struct {
	cfg    Config
	client *resty.Client
}

// NewHTTPGenerator builds the HTTP variant.
func NewHTTPGenerator(cfg Config) *HTTPGenerator {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		client.SetAuthToken(key)
	}
	return &HTTPGenerator{cfg: cfg, client: client}
}

// Close releases idle connections.
func (g *HTTPGenerator) Close() error {
	return g.client.Close()
}

type generateRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Seed           int64  `json:"seed"`
	ResponseFormat string `json:"response_format"`
}

type generateResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// GenerateImage implements Generator with a single attempt.
func (g *HTTPGenerator) GenerateImage(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, services.Wrap(services.ErrValidation, "", "generate image", "prompt required", nil)
	}
	if strings.TrimSpace(g.cfg.BaseURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "generate image", "images.base_url is not set", nil)
	}
	var result generateResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Model:          g.cfg.Model,
			Prompt:         req.Prompt,
			AspectRatio:    req.AspectRatio,
			Seed:           req.Seed,
			ResponseFormat: "b64_json",
		}).
		SetResult(&result).
		Post("/images/generations")
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, services.NewStatusError(providerName, resp.StatusCode(), resp.String(), resp.Header())
	}
	if len(result.Data) == 0 {
		return nil, services.Wrap(services.ErrTransient, "", "generate image", "response contained no images", nil)
	}
	item := result.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "", "generate image", "decode base64 image", err)
		}
		return data, nil
	}
	if item.URL != "" {
		return g.download(ctx, item.URL)
	}
	return nil, services.Wrap(services.ErrValidation, "", "generate image", "image entry has neither b64_json nor url", nil)
}

func (g *HTTPGenerator) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := g.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("image download: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, services.NewStatusError(providerName, resp.StatusCode(), "", resp.Header())
	}
	data := resp.Bytes()
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrTransient, "", "image download", "empty body", nil)
	}
	return data, nil
}

// PlaceholderGenerator renders offline cards instead of calling a service.
type PlaceholderGenerator struct {
	LongEdge int
}

// GenerateImage implements Generator.
func (g PlaceholderGenerator) GenerateImage(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	edge := g.LongEdge
	if edge <= 0 {
		edge = defaultPlaceholderDim
	}
	w, h := placeholder.Size(req.AspectRatio, edge)
	return placeholder.RenderPNG(placeholder.Card{
		Width:    w,
		Height:   h,
		Title:    truncate(req.Prompt, 180),
		Subtitle: fmt.Sprintf("seed %d", req.Seed),
		Seed:     req.Seed,
	})
}

func truncate(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}
