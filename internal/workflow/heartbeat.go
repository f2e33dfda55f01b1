package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storyreel/internal/logging"
	"storyreel/internal/queue"
)

// HeartbeatMonitor keeps claimed stories alive and returns abandoned ones to the queue.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor refreshes heartbeats every interval; a story whose heartbeat
// is older than timeout counts as abandoned. Zero disables either side.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logging.Component(logger, "workflow-heartbeat"),
		interval: interval,
		timeout:  timeout,
	}
}

// ReclaimStaleStories requeues processing stories whose owner stopped beating.
// logger overrides the monitor's own logger when non-nil.
func (h *HeartbeatMonitor) ReclaimStaleStories(ctx context.Context, logger *slog.Logger) error {
	if h.timeout <= 0 {
		return nil
	}
	n, err := h.store.ReclaimStaleProcessing(ctx, time.Now().Add(-h.timeout))
	if err != nil || n == 0 {
		return err
	}
	if logger == nil {
		logger = h.logger
	}
	logger.Info("stale stories returned to queue",
		logging.String(logging.FieldEventType, "heartbeat_reclaim"),
		logging.Int64("count", n),
		logging.Duration("timeout", h.timeout),
	)
	return nil
}

// StartLoop beats for storyID until ctx ends, then marks wg done.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, storyID int64) {
	defer wg.Done()
	if h.interval <= 0 {
		<-ctx.Done()
		return
	}
	logger := logging.WithContext(ctx, h.logger)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := h.store.UpdateHeartbeat(ctx, storyID)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			return
		default:
			logger.Warn("heartbeat update failed", logging.Int64(logging.FieldStoryID, storyID), logging.Error(err))
		}
	}
}
