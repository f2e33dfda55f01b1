package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeImages()
	c.normalizeNarration()
	if err := c.normalizeChunking(); err != nil {
		return err
	}
	c.normalizeRedis()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Inbox.Dir) == "" {
		c.Inbox.Dir = defaultInboxDir
	}
	if c.Inbox.Dir, err = expandPath(c.Inbox.Dir); err != nil {
		return fmt.Errorf("inbox.dir: %w", err)
	}
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = LLMProviderOpenRouter
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	switch c.LLM.Provider {
	case LLMProviderOpenRouter:
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = defaultOpenRouterBaseURL
		}
		if c.LLM.Model == "" {
			c.LLM.Model = defaultOpenRouterModel
		}
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = lookupEnv("OPENROUTER_API_KEY")
		}
	case LLMProviderOpenAI:
		if c.LLM.Model == "" {
			c.LLM.Model = defaultOpenAIModel
		}
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = lookupEnv("OPENAI_API_KEY")
		}
	}
	if strings.TrimSpace(c.LLM.Referer) == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	if strings.TrimSpace(c.LLM.Title) == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeImages() {
	c.Images.Provider = strings.ToLower(strings.TrimSpace(c.Images.Provider))
	if c.Images.Provider == "" {
		c.Images.Provider = ImageProviderHTTP
	}
	c.Images.BaseURL = strings.TrimSpace(c.Images.BaseURL)
	c.Images.APIKey = strings.TrimSpace(c.Images.APIKey)
	if c.Images.APIKey == "" {
		c.Images.APIKey = lookupEnv("STORYREEL_IMAGE_API_KEY")
	}
	if strings.TrimSpace(c.Images.AspectRatio) == "" {
		c.Images.AspectRatio = defaultAspectRatio
	}
	if c.Images.TimeoutSeconds <= 0 {
		c.Images.TimeoutSeconds = defaultMediaTimeoutSeconds
	}
}

func (c *Config) normalizeNarration() {
	c.Narration.Provider = strings.ToLower(strings.TrimSpace(c.Narration.Provider))
	if c.Narration.Provider == "" {
		c.Narration.Provider = NarrationProviderRemote
	}
	c.Narration.BaseURL = strings.TrimSpace(c.Narration.BaseURL)
	if c.Narration.BaseURL == "" && c.Narration.Provider == NarrationProviderLocal {
		c.Narration.BaseURL = defaultLocalNarrationURL
	}
	c.Narration.APIKey = strings.TrimSpace(c.Narration.APIKey)
	if c.Narration.APIKey == "" {
		c.Narration.APIKey = lookupEnv("STORYREEL_NARRATION_API_KEY")
	}
	c.Narration.DefaultVoice = strings.TrimSpace(c.Narration.DefaultVoice)
	c.Narration.AudioFormat = strings.ToLower(strings.TrimSpace(c.Narration.AudioFormat))
	if c.Narration.AudioFormat == "" {
		c.Narration.AudioFormat = defaultAudioFormat
	}
	if c.Narration.WordsPerMinute <= 0 {
		c.Narration.WordsPerMinute = defaultWordsPerMinute
	}
	if c.Narration.TimeoutSeconds <= 0 {
		c.Narration.TimeoutSeconds = defaultMediaTimeoutSeconds
	}
}

func (c *Config) normalizeChunking() error {
	c.Chunking.TokenizerFile = strings.TrimSpace(c.Chunking.TokenizerFile)
	if c.Chunking.TokenizerFile == "" {
		return nil
	}
	var err error
	if c.Chunking.TokenizerFile, err = expandPath(c.Chunking.TokenizerFile); err != nil {
		return fmt.Errorf("chunking.tokenizer_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeRedis() {
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if value := lookupEnv("STORYREEL_REDIS_ADDR"); value != "" {
		c.Redis.Addr = value
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	c.Redis.Queue = strings.TrimSpace(c.Redis.Queue)
	if c.Redis.Queue == "" {
		c.Redis.Queue = defaultRedisQueue
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func lookupEnv(key string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
