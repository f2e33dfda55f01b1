package testsupport

import (
	"path/filepath"
	"testing"

	"storyreel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays and fan-out cooldowns are shrunk so pipelines finish quickly,
// and providers default to offline variants with test credentials.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Inbox.Dir = filepath.Join(base, "inbox")
	cfgVal.Logging.Dir = filepath.Join(base, "logs")

	cfgVal.LLM.APIKey = "test"
	cfgVal.Images.Provider = config.ImageProviderPlaceholder
	cfgVal.Images.CooldownMillis = 0
	cfgVal.Narration.APIKey = "test"
	cfgVal.Narration.DefaultVoice = "voice-test"
	cfgVal.Narration.CooldownMillis = 0

	cfgVal.Retry.MaxAttempts = 3
	cfgVal.Retry.InitialDelayMillis = 1
	cfgVal.Retry.MaxDelayMillis = 2
	cfgVal.Retry.JitterFraction = 0
	cfgVal.Retry.AttemptTimeoutSeconds = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDefaultVoice overrides the narration default voice; empty clears it.
func WithDefaultVoice(voice string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Narration.DefaultVoice = voice
	}
}

// WithInbox enables the inbox watcher on the temp inbox directory.
func WithInbox() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Inbox.Enabled = true
	}
}

// WithSegmentation replaces the segmentation targets.
func WithSegmentation(seg config.Segmentation) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Segmentation = seg
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
