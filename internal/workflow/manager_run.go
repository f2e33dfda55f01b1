package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storyreel/internal/logging"
	"storyreel/internal/pipeline"
	"storyreel/internal/queue"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.orchestrator == nil {
		m.mu.Unlock()
		return errors.New("workflow orchestrator not configured")
	}
	workers := m.cfg.Workflow.MaxConcurrentStories
	if workers <= 0 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers)
	m.mu.Unlock()

	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Int("workers", workers),
	)
	return nil
}

// Stop terminates background processing and waits for in-flight runs to
// return their stories to the queue.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Wake asks an idle worker to poll the queue now.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// One worker is enough to reclaim; the others would race on the same rows.
		if index == 0 {
			if err := m.heartbeat.ReclaimStaleStories(ctx, logger); err != nil && ctx.Err() == nil {
				logger.Warn("reclaim stale processing failed; stuck stories may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
		}

		if err := m.runPreflightChecks(ctx, logger); err != nil {
			m.handleNextStoryError(ctx, logger, err)
			continue
		}

		story, err := m.store.ClaimNext(ctx, uuid.NewString())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleNextStoryError(ctx, logger, err)
			continue
		}
		if story == nil {
			m.waitForStoryOrShutdown(ctx)
			continue
		}

		result := m.processStory(ctx, logger, story)
		if result.Canceled() {
			return
		}
	}
}

func (m *Manager) processStory(ctx context.Context, logger *slog.Logger, story *queue.Story) pipeline.RunResult {
	m.onStoryStarted(ctx, story)
	defer m.onStoryFinished(ctx, story.ID)

	runLogger, logPath, closeLog := m.storyLogger(logger, story)
	defer closeLog()

	logger.Info("story claimed",
		logging.String(logging.FieldEventType, "story_claimed"),
		logging.Int64(logging.FieldStoryID, story.ID),
		logging.String(logging.FieldRunID, story.RunID),
		logging.String("title", story.Title),
		logging.String("log_file", logPath),
	)

	orch := m.orchestrator.With(pipeline.WithHeartbeat(m.heartbeat), pipeline.WithLogger(runLogger))
	result := orch.ProcessClaimed(ctx, story)

	m.setLastStory(story)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "story_finished"),
		logging.Int64(logging.FieldStoryID, story.ID),
		logging.String("final_status", string(result.FinalStatus)),
		logging.Int("degraded_scenes", len(result.Degraded)),
		logging.Int("skipped_steps", len(result.Skipped)),
		logging.Duration("run_duration", result.Duration),
	}
	switch {
	case result.Canceled():
		logger.Info("story returned to queue", logging.Args(attrs...)...)
	case result.Err != nil:
		m.setLastError(fmt.Errorf("story %d: %w", story.ID, result.Err))
		attrs = append(attrs, logging.Error(result.Err))
		logger.Warn("story failed", logging.Args(attrs...)...)
	default:
		logger.Info("story finished", logging.Args(attrs...)...)
	}
	if !result.Canceled() {
		m.checkQueueCompletion(ctx)
	}
	return result
}

func (m *Manager) handleNextStoryError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next story",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access and preflight results"),
	)
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForStoryOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-m.wake:
	case <-time.After(m.pollInterval):
	}
}
