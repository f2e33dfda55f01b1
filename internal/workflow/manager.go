package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/notifications"
	"storyreel/internal/pipeline"
	"storyreel/internal/preflight"
	"storyreel/internal/queue"
)

// PreflightFunc returns readiness results checked before each claim.
type PreflightFunc func(ctx context.Context) []preflight.Result

// Manager coordinates queue processing across a bounded set of workers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	orchestrator *pipeline.Orchestrator
	logger       *slog.Logger
	pollInterval time.Duration
	notifier     notifications.Service
	preflight    PreflightFunc

	heartbeat *HeartbeatMonitor
	storyLogs *StoryLogger
	wake      chan struct{}

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastStory *queue.Story
	active    map[int64]string

	// batchStarted is set when the first story of a busy period is claimed
	// and cleared once nothing is queued or processing.
	batchStarted time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier overrides the notification service (used in tests).
func WithNotifier(n notifications.Service) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithPreflight overrides the readiness checks run before each claim. A nil
// func disables them.
func WithPreflight(fn PreflightFunc) ManagerOption {
	return func(m *Manager) { m.preflight = fn }
}

// WithStoryLogs toggles per-story log files.
func WithStoryLogs(enabled bool) ManagerOption {
	return func(m *Manager) {
		if !enabled {
			m.storyLogs = nil
		}
	}
}

// NewManager constructs a workflow manager. The orchestrator is rebuilt with a
// heartbeat loop owned by the manager.
func NewManager(cfg *config.Config, store *queue.Store, orchestrator *pipeline.Orchestrator, logger *slog.Logger, opts ...ManagerOption) *Manager {
	logger = logging.Component(logger, "workflow-manager")
	m := &Manager{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		logger:       logger,
		notifier:     notifications.NewService(cfg),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		preflight: func(ctx context.Context) []preflight.Result {
			return preflight.RunAll(ctx, cfg)
		},
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		storyLogs: NewStoryLogger(cfg),
		wake:      make(chan struct{}, 1),
		active:    make(map[int64]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Heartbeat exposes the monitor so callers outside the poll loop (the CLI and
// maintenance jobs) share the same reclaim rules.
func (m *Manager) Heartbeat() *HeartbeatMonitor {
	return m.heartbeat
}
