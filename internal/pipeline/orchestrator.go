package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyreel/internal/backoff"
	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/notifications"
	"storyreel/internal/packaging"
	"storyreel/internal/providers"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/stage"
	"storyreel/internal/stageexec"
	"storyreel/internal/steps"
)

// Heartbeater keeps a processing story's heartbeat fresh until ctx ends.
type Heartbeater interface {
	StartLoop(ctx context.Context, wg *sync.WaitGroup, storyID int64)
}

// RunResult reports the outcome of one ProcessStory call.
type RunResult struct {
	StoryID     int64
	RunID       string
	Success     bool
	FinalStatus queue.Status
	Err         error
	Skipped     []string
	Degraded    []stage.Degradation
	Warnings    []string
	Duration    time.Duration
	// Interrupted is set when the run's context ended and the story went back to the queue.
	Interrupted bool
}

// Canceled reports whether the run was interrupted and the story requeued.
// Provider timeouts inside a step are failures, not cancellations.
func (r RunResult) Canceled() bool {
	return r.Interrupted
}

// Orchestrator runs stories through the pipeline steps.
type Orchestrator struct {
	cfg       *config.Config
	store     *queue.Store
	factory   providers.Factory
	notifier  notifications.Service
	logger    *slog.Logger
	heartbeat Heartbeater
	executor  *backoff.Executor
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier publishes story_completed and story_failed events.
func WithNotifier(n notifications.Service) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithHeartbeat keeps the story heartbeat alive while a run is in flight.
func WithHeartbeat(h Heartbeater) Option {
	return func(o *Orchestrator) { o.heartbeat = h }
}

// WithExecutor overrides the backoff executor shared by the run's steps.
func WithExecutor(e *backoff.Executor) Option {
	return func(o *Orchestrator) { o.executor = e }
}

// WithLogger replaces the logger used for runs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logging.Component(logger, "pipeline")
		}
	}
}

// New constructs an Orchestrator.
func New(cfg *config.Config, store *queue.Store, factory providers.Factory, logger *slog.Logger, opts ...Option) *Orchestrator {
	if factory == nil {
		factory = providers.FromConfig{}
	}
	o := &Orchestrator{
		cfg:     cfg,
		store:   store,
		factory: factory,
		logger:  logging.Component(logger, "pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.executor == nil {
		o.executor = backoff.NewExecutor()
	}
	return o
}

// With returns a copy of the orchestrator with opts applied.
func (o *Orchestrator) With(opts ...Option) *Orchestrator {
	cp := *o
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// ProcessStory claims the story and runs every step that has not completed yet.
// A completed story is reported as such without running anything.
func (o *Orchestrator) ProcessStory(ctx context.Context, storyID int64) RunResult {
	started := time.Now()
	runID := uuid.NewString()
	result := RunResult{StoryID: storyID, RunID: runID}

	claimed, err := o.store.Claim(ctx, storyID, runID)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(started)
		return result
	}
	if !claimed {
		story, err := o.store.MustGet(ctx, storyID)
		if err != nil {
			result.Err = err
		} else if story.Status == queue.StatusCompleted {
			result.Success = true
			result.FinalStatus = story.Status
		} else {
			result.FinalStatus = story.Status
			result.Err = services.Wrap(services.ErrValidation, "", "claim story",
				fmt.Sprintf("story %d is already %s", storyID, story.Status), nil)
		}
		result.Duration = time.Since(started)
		return result
	}

	story, err := o.store.MustGet(ctx, storyID)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(started)
		return result
	}
	return o.ProcessClaimed(ctx, story)
}

// ProcessClaimed runs a story that the caller already moved to processing.
func (o *Orchestrator) ProcessClaimed(ctx context.Context, story *queue.Story) (result RunResult) {
	started := time.Now()
	if strings.TrimSpace(story.RunID) == "" {
		story.RunID = uuid.NewString()
	}
	result = RunResult{StoryID: story.ID, RunID: story.RunID, FinalStatus: story.Status}
	defer func() { result.Duration = time.Since(started) }()

	ctx = services.WithStoryID(ctx, story.ID)
	ctx = services.WithRunID(ctx, story.RunID)
	logger := logging.WithContext(ctx, o.logger)

	if o.heartbeat != nil {
		hbCtx, hbCancel := context.WithCancel(ctx)
		var hbWG sync.WaitGroup
		hbWG.Add(1)
		go o.heartbeat.StartLoop(hbCtx, &hbWG, story.ID)
		defer func() {
			hbCancel()
			hbWG.Wait()
		}()
	}

	logger.Info("story run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("title", story.Title),
		logging.String("format", string(story.Format)),
		logging.String("target_language", story.TargetLanguage),
		logging.Int(logging.FieldProgress, story.Progress),
	)

	set, err := o.factory.Build(o.cfg)
	if err != nil {
		o.fail(ctx, logger, story, "", err, &result)
		return result
	}
	defer func() {
		if err := set.Close(); err != nil {
			logger.Debug("provider close failed", logging.Error(err))
		}
	}()

	handlers := steps.Handlers(steps.Env{
		Config:    o.cfg,
		Store:     o.store,
		LLM:       set.LLM,
		Images:    set.Images,
		Narration: set.Narration,
		Estimator: set.Estimator,
		Executor:  o.executor,
		Packager:  packaging.New(o.cfg, logger),
	})

	for _, step := range stage.Order() {
		if ctx.Err() != nil {
			o.interrupt(ctx, logger, story, ctx.Err(), &result)
			return result
		}
		outcome, err := stageexec.Run(ctx, stageexec.Options{
			Logger:   logger,
			Store:    o.store,
			Handler:  handlers[step],
			StepName: step,
			RunID:    story.RunID,
			Story:    story,
		})
		if err != nil {
			if ctx.Err() != nil {
				o.interrupt(ctx, logger, story, err, &result)
				return result
			}
			// Runner errors that never reached a handler still mark the story failed.
			o.fail(ctx, logger, story, step, err, &result)
			return result
		}
		if outcome.Skipped {
			result.Skipped = append(result.Skipped, step)
			continue
		}
		result.Warnings = append(result.Warnings, outcome.Result.Warnings...)
		result.Degraded = append(result.Degraded, outcome.Result.Degraded...)
	}

	if ctx.Err() != nil {
		o.interrupt(ctx, logger, story, ctx.Err(), &result)
		return result
	}
	o.complete(ctx, logger, story, &result, time.Since(started))
	return result
}

func (o *Orchestrator) complete(ctx context.Context, logger *slog.Logger, story *queue.Story, result *RunResult, elapsed time.Duration) {
	if scenes, err := o.store.ListScenes(context.WithoutCancel(ctx), story.ID); err != nil {
		logger.Warn("scene list unavailable; degraded report covers this run only", logging.Error(err))
	} else {
		degraded := sceneDegradations(scenes)
		result.Warnings = append(result.Warnings, earlierRunWarnings(degraded, result.Degraded)...)
		result.Degraded = degraded
	}

	story.Status = queue.StatusCompleted
	story.Progress = stage.Marker(stage.Complete)
	story.CurrentStep = stage.Complete
	story.ErrorMessage = ""
	story.HeartbeatAt = nil
	if err := o.store.Update(context.WithoutCancel(ctx), story); err != nil {
		result.Err = fmt.Errorf("persist completion: %w", err)
		result.FinalStatus = queue.StatusProcessing
		logger.Error("failed to persist story completion", logging.Error(err))
		return
	}
	result.Success = true
	result.FinalStatus = queue.StatusCompleted

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("archive_path", story.ArchivePath),
		logging.Int("skipped_steps", len(result.Skipped)),
		logging.Int("warnings", len(result.Warnings)),
		logging.Duration("run_duration", elapsed),
	}
	if len(result.Degraded) > 0 {
		attrs = append(attrs,
			logging.Int("degraded_scenes", len(result.Degraded)),
			logging.String(logging.FieldImpact, "archive contains placeholders or missing audio"),
		)
		logger.Warn("story completed with degraded scenes", logging.Args(attrs...)...)
	} else {
		logger.Info("story completed", logging.Args(attrs...)...)
	}
	o.publish(ctx, logger, notifications.EventStoryCompleted, notifications.Payload{
		"title":    story.Title,
		"archive":  story.ArchivePath,
		"degraded": len(result.Degraded),
	})
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, story *queue.Story, step string, err error, result *RunResult) {
	message := stageexec.FailureMessage(err)
	if story.Status != queue.StatusFailed {
		story.SetFailed(message)
		if perr := o.store.Update(context.WithoutCancel(ctx), story); perr != nil {
			logger.Error("failed to persist story failure", logging.Error(perr))
		}
		details := services.Details(err)
		logging.ErrorWithContext(logger, "story run failed", "run_failure",
			logging.String(logging.FieldStage, step),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldErrorOperation, details.Operation),
			logging.String(logging.FieldErrorHint, "fix the cause and run `storyreel queue retry`"),
			logging.Error(err),
		)
	}
	result.Err = err
	result.FinalStatus = queue.StatusFailed
	o.publish(ctx, logger, notifications.EventStoryFailed, notifications.Payload{
		"title": story.Title,
		"step":  stage.Label(step),
		"error": message,
	})
}

func (o *Orchestrator) interrupt(ctx context.Context, logger *slog.Logger, story *queue.Story, err error, result *RunResult) {
	if rerr := o.store.ReturnToQueue(context.WithoutCancel(ctx), story.ID, queue.DaemonStopReason); rerr != nil {
		logger.Error("failed to return story to queue", logging.Error(rerr))
	}
	story.Status = queue.StatusQueued
	story.CurrentStep = queue.DaemonStopReason
	story.HeartbeatAt = nil
	result.Err = err
	result.FinalStatus = queue.StatusQueued
	result.Interrupted = true
	logger.Info("story run interrupted; returned to queue",
		logging.String(logging.FieldEventType, "run_interrupted"),
		logging.Int(logging.FieldProgress, story.Progress),
	)
}

func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
