package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable. Provider credentials are not
// checked here; the provider factory reports them when a run needs them, so
// read-only CLI commands work without API keys.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateProviders,
		c.validateChunking,
		c.validateLengthGuard,
		c.validateSegmentation,
		c.validateRetry,
		c.validateWorkflow,
		c.validateFanout,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	switch c.LLM.Provider {
	case LLMProviderOpenRouter, LLMProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", LLMProviderOpenRouter, LLMProviderOpenAI, c.LLM.Provider)
	}
	switch c.Images.Provider {
	case ImageProviderHTTP, ImageProviderPlaceholder:
	default:
		return fmt.Errorf("images.provider must be %q or %q, got %q", ImageProviderHTTP, ImageProviderPlaceholder, c.Images.Provider)
	}
	switch c.Narration.Provider {
	case NarrationProviderRemote, NarrationProviderLocal:
	default:
		return fmt.Errorf("narration.provider must be %q or %q, got %q", NarrationProviderRemote, NarrationProviderLocal, c.Narration.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateChunking() error {
	if err := ensurePositiveMap(map[string]int{
		"chunking.model_token_limit":  c.Chunking.ModelTokenLimit,
		"chunking.batch_token_budget": c.Chunking.BatchTokenBudget,
	}); err != nil {
		return err
	}
	if c.Chunking.ReservedTokens < 0 {
		return errors.New("chunking.reserved_tokens must be >= 0")
	}
	if c.Chunking.ReservedTokens >= c.Chunking.ModelTokenLimit {
		return errors.New("chunking.reserved_tokens must be less than chunking.model_token_limit")
	}
	if c.Chunking.TokenizerFile == "" && c.Chunking.CharsPerToken <= 0 {
		return errors.New("chunking.chars_per_token must be positive when no tokenizer_file is set")
	}
	return nil
}

func (c *Config) validateLengthGuard() error {
	if c.LengthGuard.MinRatio <= 0 || c.LengthGuard.MinRatio > 1 {
		return errors.New("length_guard.min_ratio must be in (0, 1]")
	}
	if c.LengthGuard.MaxAttempts <= 0 {
		return errors.New("length_guard.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateSegmentation() error {
	s := c.Segmentation
	if s.EarlyWindowSeconds < 0 {
		return errors.New("segmentation.early_window_seconds must be >= 0")
	}
	if s.EarlySceneTarget <= 0 || s.RemainderSceneTarget <= 0 {
		return errors.New("segmentation scene targets must be positive")
	}
	if s.EarlyImageTarget < 0 || s.RemainderImageTarget < 0 {
		return errors.New("segmentation image targets must be >= 0")
	}
	if s.MinSceneSeconds <= 0 || s.MaxSceneSeconds <= 0 {
		return errors.New("segmentation.min_scene_seconds and max_scene_seconds must be positive")
	}
	if s.MaxSceneSeconds < s.MinSceneSeconds {
		return errors.New("segmentation.max_scene_seconds must be >= min_scene_seconds")
	}
	if s.MarginFloorSeconds < 0 || s.TailSeconds <= 0 {
		return errors.New("segmentation.margin_floor_seconds must be >= 0 and tail_seconds positive")
	}
	return nil
}

func (c *Config) validateRetry() error {
	r := c.Retry
	if r.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if r.InitialDelayMillis < 0 || r.MaxDelayMillis < r.InitialDelayMillis {
		return errors.New("retry.max_delay_ms must be >= retry.initial_delay_ms >= 0")
	}
	if r.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	if r.JitterFraction < 0 || r.JitterFraction >= 1 {
		return errors.New("retry.jitter_fraction must be in [0, 1)")
	}
	if r.AttemptTimeoutSeconds < 0 {
		return errors.New("retry.attempt_timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
		"workflow.queue_poll_interval":    c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval":   c.Workflow.ErrorRetryInterval,
		"workflow.max_concurrent_stories": c.Workflow.MaxConcurrentStories,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if schedule := strings.TrimSpace(c.Workflow.MaintenanceSchedule); schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("workflow.maintenance_schedule: %w", err)
		}
	}
	return nil
}

func (c *Config) validateFanout() error {
	return ensurePositiveMap(map[string]int{
		"images.concurrency":         c.Images.Concurrency,
		"narration.concurrency":      c.Narration.Concurrency,
		"narration.words_per_minute": c.Narration.WordsPerMinute,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
