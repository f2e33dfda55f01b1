// Package narration provides the text-to-speech providers used for scene audio.
package narration

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"storyreel/internal/services"
	"storyreel/internal/transcript"
)

// DurationHeader carries the rendered audio length in seconds.
const DurationHeader = "X-Audio-Duration"

const defaultTimeout = 180 * time.Second

// Request describes one narration clip.
type Request struct {
	Text     string
	VoiceID  string
	Language string
}

// Narration is rendered audio plus its length.
type Narration struct {
	Audio    []byte
	Duration time.Duration
}

// Generator renders narration audio.
type Generator interface {
	GenerateNarration(ctx context.Context, req Request) (Narration, error)
}

// Config captures TTS provider settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	AudioFormat    string
	WordsPerMinute int
	TimeoutSeconds int
}

// Variant names the backend flavour.
type Variant string

const (
	// VariantRemote is a hosted API that accepts concurrent requests.
	VariantRemote Variant = "remote"
	// VariantLocal is a single local TTS server, typically GPU-bound.
	VariantLocal Variant = "local"
)

// Client is a resty-backed TTS client for either variant.
type Client struct {
	variant Variant
	cfg     Config
	client  *resty.Client
}

// NewRemote builds the hosted variant, which posts to /audio/speech with a bearer token.
func NewRemote(cfg Config) *Client {
	return newClient(VariantRemote, cfg)
}

// NewLocal builds the local-server variant, which posts to /tts without auth.
func NewLocal(cfg Config) *Client {
	return newClient(VariantLocal, cfg)
}

func newClient(variant Variant, cfg Config) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if strings.TrimSpace(cfg.AudioFormat) == "" {
		cfg.AudioFormat = "mp3"
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	if variant == VariantRemote && strings.TrimSpace(cfg.APIKey) != "" {
		client.SetAuthToken(strings.TrimSpace(cfg.APIKey))
	}
	return &Client{variant: variant, cfg: cfg, client: client}
}

// Variant reports which backend flavour the client targets.
func (c *Client) Variant() Variant { return c.variant }

// Close releases idle connections.
func (c *Client) Close() error { return c.client.Close() }

type remoteRequest struct {
	Model          string `json:"model,omitempty"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	Language       string `json:"language,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type localRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language,omitempty"`
	Format   string `json:"format"`
}

// GenerateNarration implements Generator with a single attempt.
func (c *Client) GenerateNarration(ctx context.Context, req Request) (Narration, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Narration{}, services.Wrap(services.ErrValidation, "", "generate narration", "text required", nil)
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		return Narration{}, services.Wrap(services.ErrConfiguration, "", "generate narration", "voice id required", nil)
	}
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return Narration{}, services.Wrap(services.ErrConfiguration, "", "generate narration", "narration.base_url is not set", nil)
	}

	var body any
	path := "/audio/speech"
	if c.variant == VariantLocal {
		path = "/tts"
		body = localRequest{Text: text, Voice: req.VoiceID, Language: req.Language, Format: c.cfg.AudioFormat}
	} else {
		body = remoteRequest{Model: c.cfg.Model, Input: text, Voice: req.VoiceID, Language: req.Language, ResponseFormat: c.cfg.AudioFormat}
	}

	resp, err := c.client.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return Narration{}, fmt.Errorf("narration request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Narration{}, services.NewStatusError("narration-"+string(c.variant), resp.StatusCode(), resp.String(), resp.Header())
	}
	audio := resp.Bytes()
	if len(audio) == 0 {
		return Narration{}, services.Wrap(services.ErrTransient, "", "generate narration", "empty audio body", nil)
	}
	duration, ok := parseDurationHeader(resp.Header().Get(DurationHeader))
	if !ok {
		duration = transcript.SpeechDuration(text, c.cfg.WordsPerMinute)
	}
	return Narration{Audio: audio, Duration: duration}, nil
}

func parseDurationHeader(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
