package main

import (
	"log/slog"

	"storyreel/internal/config"
	"storyreel/internal/daemon"
	"storyreel/internal/notifications"
	"storyreel/internal/pipeline"
	"storyreel/internal/providers"
	"storyreel/internal/queue"
	"storyreel/internal/workflow"
)

// buildDaemon wires the pipeline, workflow manager and daemon. The factory is
// resolved per run, so provider settings are read from cfg each time.
func buildDaemon(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	notifier := notifications.NewService(cfg)
	orch := pipeline.New(cfg, store, providers.FromConfig{}, logger, pipeline.WithNotifier(notifier))
	mgr := workflow.NewManager(cfg, store, orch, logger, workflow.WithNotifier(notifier))
	return daemon.New(cfg, store, logger, mgr)
}
