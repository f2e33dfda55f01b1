package workflow

import (
	"context"
	"errors"
	"time"

	"storyreel/internal/logging"
	"storyreel/internal/notifications"
	"storyreel/internal/queue"
)

// pending counts stories that still have work ahead of them.
func pending(stats map[queue.Status]int) int {
	return stats[queue.StatusQueued] + stats[queue.StatusProcessing]
}

// onStoryStarted records the active story and announces a new busy period.
func (m *Manager) onStoryStarted(ctx context.Context, story *queue.Story) {
	m.mu.Lock()
	m.active[story.ID] = story.Title
	first := m.batchStarted.IsZero()
	if first {
		m.batchStarted = time.Now()
	}
	m.mu.Unlock()

	if !first || m.notifier == nil {
		return
	}
	stats, ok := m.queueStats(ctx, "queue_started")
	if !ok {
		return
	}
	m.notify(ctx, notifications.EventQueueStarted, notifications.Payload{"count": pending(stats)})
}

func (m *Manager) onStoryFinished(_ context.Context, storyID int64) {
	m.mu.Lock()
	delete(m.active, storyID)
	m.mu.Unlock()
}

// checkQueueCompletion closes the busy period once the queue has drained.
func (m *Manager) checkQueueCompletion(ctx context.Context) {
	stats, ok := m.queueStats(ctx, "queue_completed")
	if !ok || pending(stats) > 0 {
		return
	}

	m.mu.Lock()
	started := m.batchStarted
	m.batchStarted = time.Time{}
	m.mu.Unlock()
	if started.IsZero() {
		return
	}

	elapsed := time.Since(started)
	completed, failed := stats[queue.StatusCompleted], stats[queue.StatusFailed]
	m.logger.Info("queue drained",
		logging.String(logging.FieldEventType, "queue_drained"),
		logging.Int("completed", completed),
		logging.Int("failed", failed),
		logging.Duration("queue_duration", elapsed),
	)
	m.notify(ctx, notifications.EventQueueCompleted, notifications.Payload{
		"processed": completed,
		"failed":    failed,
		"duration":  elapsed,
	})
}

// queueStats loads queue counts for a notification; a failure skips that notification.
func (m *Manager) queueStats(ctx context.Context, event string) (map[queue.Status]int, bool) {
	stats, err := m.store.Stats(ctx)
	if err == nil {
		return stats, true
	}
	if errors.Is(err, context.Canceled) {
		m.logger.Debug("queue stats skipped during shutdown", logging.String("event", event))
		return nil, false
	}
	logging.WarnWithContext(m.logger, "queue stats unavailable; notification skipped", "queue_stats_failed",
		logging.String("event", event),
		logging.String(logging.FieldErrorHint, "check queue database access"),
		logging.String(logging.FieldImpact, event+" notification not sent"),
		logging.Error(err),
	)
	return nil, false
}

func (m *Manager) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		m.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
