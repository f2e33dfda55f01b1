package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/stage"
)

// Options controls one checkpointed step execution.
type Options struct {
	Logger   *slog.Logger
	Store    *queue.Store
	Handler  stage.Handler
	StepName string
	RunID    string
	Story    *queue.Story
}

// Outcome reports what happened to a step.
type Outcome struct {
	Skipped bool
	Result  stage.Result
}

// Run executes a step unless a completed checkpoint for (story, step) exists.
// On success the story output is persisted, the checkpoint is marked completed,
// and progress advances to the step marker. On failure the checkpoint and the
// story are marked failed. A canceled context leaves the checkpoint running so
// the step runs again on the next attempt.
func Run(ctx context.Context, opts Options) (Outcome, error) {
	if opts.Handler == nil {
		return Outcome{}, fmt.Errorf("step handler unavailable: %s", opts.StepName)
	}
	if opts.Store == nil {
		return Outcome{}, fmt.Errorf("queue store is required")
	}
	if opts.Story == nil {
		return Outcome{}, fmt.Errorf("story is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	stepCtx := services.WithStage(ctx, opts.StepName)
	stepLogger := logging.WithContext(stepCtx, logger)
	story := opts.Story
	marker := stage.Marker(opts.StepName)

	existing, err := opts.Store.GetCheckpoint(stepCtx, story.ID, opts.StepName)
	if err != nil {
		return Outcome{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if existing != nil && existing.Status == queue.CheckpointCompleted {
		stepLogger.Info(
			"stage skipped",
			logging.String(logging.FieldEventType, "stage_skip"),
			logging.String("checkpoint_summary", existing.Summary),
		)
		advanceProgress(stepCtx, stepLogger, opts.Store, story, marker, opts.StepName)
		return Outcome{Skipped: true, Result: stage.Result{Summary: existing.Summary}}, nil
	}

	if aware, ok := opts.Handler.(stage.LoggerAware); ok {
		aware.SetLogger(stepLogger)
	}

	started := time.Now().UTC()
	checkpoint := queue.Checkpoint{
		StoryID:   story.ID,
		Step:      opts.StepName,
		Status:    queue.CheckpointRunning,
		RunID:     opts.RunID,
		StartedAt: started,
	}
	if err := opts.Store.SaveCheckpoint(stepCtx, checkpoint); err != nil {
		return Outcome{}, fmt.Errorf("record checkpoint: %w", err)
	}
	story.CurrentStep = opts.StepName
	if err := opts.Store.UpdateProgress(stepCtx, story.ID, story.Progress, opts.StepName, queue.StatusProcessing); err != nil {
		stepLogger.Warn("progress update failed", logging.Error(err))
	}

	stepLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("title", strings.TrimSpace(story.Title)),
		logging.Int(logging.FieldProgress, story.Progress),
	)

	if err := opts.Handler.Prepare(stepCtx, story); err != nil {
		return Outcome{}, handleFailure(stepCtx, stepLogger, opts, checkpoint, err)
	}
	result, err := opts.Handler.Execute(stepCtx, story)
	if err != nil {
		return Outcome{}, handleFailure(stepCtx, stepLogger, opts, checkpoint, err)
	}

	if err := opts.Store.Update(stepCtx, story); err != nil {
		return Outcome{}, fmt.Errorf("persist step output: %w", err)
	}

	completed := time.Now().UTC()
	checkpoint.Status = queue.CheckpointCompleted
	checkpoint.CompletedAt = &completed
	checkpoint.Summary = result.Summary
	if err := opts.Store.SaveCheckpoint(stepCtx, checkpoint); err != nil {
		return Outcome{}, fmt.Errorf("complete checkpoint: %w", err)
	}
	advanceProgress(stepCtx, stepLogger, opts.Store, story, marker, opts.StepName)

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("summary", result.Summary),
		logging.Int(logging.FieldProgress, story.Progress),
		logging.Duration("stage_duration", completed.Sub(started)),
	}
	if len(result.Degraded) > 0 {
		attrs = append(attrs, logging.Int("degraded_scenes", len(result.Degraded)))
	}
	stepLogger.Info("stage completed", logging.Args(attrs...)...)

	return Outcome{Result: result}, nil
}

func advanceProgress(ctx context.Context, logger *slog.Logger, store *queue.Store, story *queue.Story, marker int, step string) {
	if marker > story.Progress {
		story.Progress = marker
	}
	story.CurrentStep = step
	// Progress writes are best effort; the run continues without them.
	if err := store.UpdateProgress(ctx, story.ID, marker, step, queue.StatusProcessing); err != nil {
		logger.Warn("progress update failed", logging.Error(err), logging.Int(logging.FieldProgress, marker))
	}
}

func handleFailure(ctx context.Context, logger *slog.Logger, opts Options, checkpoint queue.Checkpoint, stepErr error) error {
	if errors.Is(stepErr, context.Canceled) || ctx.Err() != nil {
		logger.Info("stage interrupted", logging.String(logging.FieldEventType, "stage_interrupted"))
		return stepErr
	}

	message := FailureMessage(stepErr)
	details := services.Details(stepErr)

	// A detached context lets the failure record land even while the run unwinds.
	persistCtx := context.WithoutCancel(ctx)
	checkpoint.Status = queue.CheckpointFailed
	checkpoint.Error = message
	if err := opts.Store.SaveCheckpoint(persistCtx, checkpoint); err != nil {
		logger.Error("failed to persist checkpoint failure", logging.Error(err))
	}

	opts.Story.SetFailed(message)
	if err := opts.Store.Update(persistCtx, opts.Story); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}

	logging.ErrorWithContext(
		logger,
		"stage failed",
		"stage_failure",
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorOperation, details.Operation),
		logging.String(logging.FieldErrorHint, failureHint(details.Kind)),
		logging.String("error_message", message),
		logging.Error(stepErr),
	)
	return stepErr
}

// FailureMessage renders a step error for the story's ErrorMessage field.
func FailureMessage(err error) string {
	if err == nil {
		return "step failed"
	}
	details := services.Details(err)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = strings.TrimSpace(err.Error())
	}
	if details.Operation != "" && !strings.Contains(message, details.Operation) {
		message = details.Operation + ": " + message
	}
	return message
}

func failureHint(kind services.ErrorKind) string {
	switch kind {
	case services.KindConfiguration:
		return "fix the configuration and retry the story"
	case services.KindValidation:
		return "inspect the story input or provider response"
	case services.KindExternal, services.KindTransient, services.KindTimeout:
		return "provider unavailable after retries; retry the story later"
	case services.KindNotFound:
		return "referenced story or file no longer exists"
	default:
		return "check logs for details and retry the story"
	}
}
