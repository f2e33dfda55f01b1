package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"storyreel/internal/backoff"
	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/packaging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/services/imagegen"
	"storyreel/internal/services/llm"
	"storyreel/internal/services/narration"
	"storyreel/internal/stage"
	"storyreel/internal/tokens"
)

// Env carries the collaborators shared by the steps of one run.
type Env struct {
	Config    *config.Config
	Store     *queue.Store
	LLM       llm.Provider
	Images    imagegen.Generator
	Narration narration.Generator
	Estimator tokens.Estimator
	Executor  *backoff.Executor
	Packager  *packaging.Packager
}

// Handlers builds one handler per executable step, keyed by step name.
func Handlers(env Env) map[string]stage.Handler {
	return map[string]stage.Handler{
		stage.DetectLanguage:  NewDetector(env),
		stage.Translate:       NewTranslator(env),
		stage.Adapt:           NewAdapter(env),
		stage.SegmentScenes:   NewSegmenter(env),
		stage.GeneratePrompts: NewPrompter(env),
		stage.GenerateImages:  NewIllustrator(env),
		stage.GenerateAudio:   NewNarrator(env),
		stage.Package:         NewBundler(env),
	}
}

// base holds the per-step logger and shared helpers.
type base struct {
	env    Env
	step   string
	logger *slog.Logger
}

func newBase(env Env, step string) base {
	if env.Executor == nil {
		env.Executor = backoff.NewExecutor()
	}
	if env.Estimator == nil {
		env.Estimator = tokens.CharEstimator{CharsPerToken: env.Config.Chunking.CharsPerToken}
	}
	return base{env: env, step: step}
}

// SetLogger implements stage.LoggerAware.
func (b *base) SetLogger(logger *slog.Logger) {
	b.logger = logger
}

func (b *base) log(ctx context.Context) *slog.Logger {
	logger := b.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return logging.WithContext(ctx, logger)
}

func (b *base) policy(ctx context.Context, op string) backoff.Policy {
	policy := backoff.PolicyFromConfig(b.env.Config.Retry)
	logger := b.log(ctx)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("provider call failed; retrying",
			logging.String(logging.FieldEventType, "provider_retry"),
			logging.String(logging.FieldErrorOperation, op),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
	}
	return policy
}

// call runs one provider operation under the shared retry policy.
func call[T any](ctx context.Context, b *base, op string, fn func(context.Context) (T, error)) (T, error) {
	out, err := backoff.Retry(ctx, b.env.Executor, b.policy(ctx, op), fn)
	if err != nil {
		var zero T
		return zero, b.classify(ctx, op, err)
	}
	return out, nil
}

// classify tags provider failures that reached the step: exhausted retries and
// unmarked errors become external-tool errors, classified errors pass through.
func (b *base) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(err, backoff.ErrMaxRetriesExceeded) {
		return services.Wrap(services.ErrExternalTool, b.step, op, "", err)
	}
	switch services.Kind(err) {
	case services.KindValidation, services.KindConfiguration, services.KindNotFound:
		return err
	}
	return services.Wrap(services.ErrExternalTool, b.step, op, "", err)
}

func (b *base) requireLLM() error {
	if b.env.LLM == nil {
		return services.Wrap(services.ErrConfiguration, b.step, "resolve llm provider", "no llm provider configured", nil)
	}
	return nil
}

func (b *base) llmHealth() stage.Health {
	if b.env.LLM == nil {
		return stage.Unhealthy(b.step, "llm provider not configured")
	}
	return stage.Healthy(b.step)
}

// writeMedia stores bytes under the story work dir and returns the path.
func (b *base) writeMedia(storyID int64, name string, data []byte) (string, error) {
	dir := b.env.Config.StoryWorkDir(storyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	path := filepath.Join(dir, name)
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return path, nil
}

func loadScenes(ctx context.Context, store *queue.Store, step string, storyID int64) ([]queue.Scene, error) {
	scenes, err := store.ListScenes(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("load scenes: %w", err)
	}
	if len(scenes) == 0 {
		return nil, services.Wrap(services.ErrValidation, step, "load scenes", "story has no scenes; run segment-scenes first", nil)
	}
	return scenes, nil
}
