package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	StateDir  string `toml:"state_dir"`
}

// LLM contains text-completion provider settings.
type LLM struct {
	Provider       string  `toml:"provider"`
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Referer        string  `toml:"referer"`
	Title          string  `toml:"title"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Images contains image generation provider settings.
type Images struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	AspectRatio    string `toml:"aspect_ratio"`
	Concurrency    int    `toml:"concurrency"`
	CooldownMillis int    `toml:"cooldown_ms"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Narration contains text-to-speech provider settings.
type Narration struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	DefaultVoice   string `toml:"default_voice"`
	AudioFormat    string `toml:"audio_format"`
	Sequential     *bool  `toml:"sequential"` // nil: sequential for the local backend only
	Concurrency    int    `toml:"concurrency"`
	CooldownMillis int    `toml:"cooldown_ms"`
	WordsPerMinute int    `toml:"words_per_minute"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Chunking contains token budget settings for chunking and batching.
type Chunking struct {
	ModelTokenLimit  int     `toml:"model_token_limit"`
	ReservedTokens   int     `toml:"reserved_tokens"`
	BatchTokenBudget int     `toml:"batch_token_budget"`
	CharsPerToken    float64 `toml:"chars_per_token"`
	TokenizerFile    string  `toml:"tokenizer_file"`
}

// LengthGuard contains content-preservation thresholds for translate/adapt.
type LengthGuard struct {
	MinRatio    float64 `toml:"min_ratio"`
	MaxAttempts int     `toml:"max_attempts"`
}

// Segmentation contains scene merge and image distribution targets.
type Segmentation struct {
	EarlyWindowSeconds   float64 `toml:"early_window_seconds"`
	EarlySceneTarget     int     `toml:"early_scene_target"`
	RemainderSceneTarget int     `toml:"remainder_scene_target"`
	EarlyImageTarget     int     `toml:"early_image_target"`
	RemainderImageTarget int     `toml:"remainder_image_target"`
	MinSceneSeconds      float64 `toml:"min_scene_seconds"`
	MaxSceneSeconds      float64 `toml:"max_scene_seconds"`
	MarginFloorSeconds   float64 `toml:"margin_floor_seconds"`
	TailSeconds          float64 `toml:"tail_seconds"`
}

// Retry contains the backoff policy applied to every external call.
type Retry struct {
	MaxAttempts           int     `toml:"max_attempts"`
	InitialDelayMillis    int     `toml:"initial_delay_ms"`
	MaxDelayMillis        int     `toml:"max_delay_ms"`
	Multiplier            float64 `toml:"multiplier"`
	JitterFraction        float64 `toml:"jitter_fraction"`
	AttemptTimeoutSeconds int     `toml:"attempt_timeout_seconds"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval    int    `toml:"queue_poll_interval"`
	ErrorRetryInterval   int    `toml:"error_retry_interval"`
	HeartbeatInterval    int    `toml:"heartbeat_interval"`
	HeartbeatTimeout     int    `toml:"heartbeat_timeout"`
	MaxConcurrentStories int    `toml:"max_concurrent_stories"`
	MaintenanceSchedule  string `toml:"maintenance_schedule"`
	WorkRetentionDays    int    `toml:"work_retention_days"`
}

// Inbox contains the watched drop directory for story manifests.
type Inbox struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Redis contains the optional trigger list consumed by the daemon.
type Redis struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Queue    string `toml:"queue"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failed         bool   `toml:"failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	Dir        string `toml:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Config encapsulates all configuration values for storyreel.
//
// Configuration sections by subsystem:
//   - Paths: work, output, and state directories
//   - LLM / Images / Narration: provider selection and credentials
//   - Chunking / LengthGuard / Segmentation: pipeline engine tuning
//   - Retry: backoff policy for every external call
//   - Workflow / Inbox / Redis: daemon intake and scheduling
//   - Notifications / Logging: operator-facing output
type Config struct {
	Paths         Paths         `toml:"paths"`
	LLM           LLM           `toml:"llm"`
	Images        Images        `toml:"images"`
	Narration     Narration     `toml:"narration"`
	Chunking      Chunking      `toml:"chunking"`
	LengthGuard   LengthGuard   `toml:"length_guard"`
	Segmentation  Segmentation  `toml:"segmentation"`
	Retry         Retry         `toml:"retry"`
	Workflow      Workflow      `toml:"workflow"`
	Inbox         Inbox         `toml:"inbox"`
	Redis         Redis         `toml:"redis"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config (or in the
// working directory) is loaded first so API keys can stay out of the TOML file.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env files without overriding variables already set in the environment.
func loadDotEnv(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env"), ".env"}
	var files []string
	seen := map[string]struct{}{}
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			files = append(files, abs)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("storyreel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.StateDir}
	if c.Inbox.Enabled {
		dirs = append(dirs, c.Inbox.Dir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the sqlite database location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "storyreeld.lock")
}

// StoryWorkDir returns the per-story directory for generated media.
func (c *Config) StoryWorkDir(storyID int64) string {
	return filepath.Join(c.Paths.WorkDir, fmt.Sprintf("story-%d", storyID))
}

// NarrationSequential reports whether narration calls must run one at a time.
// An explicit setting wins; otherwise only the local backend is sequential.
func (c *Config) NarrationSequential() bool {
	if c.Narration.Sequential != nil {
		return *c.Narration.Sequential
	}
	return c.Narration.Provider == NarrationProviderLocal
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
