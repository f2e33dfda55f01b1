package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"storyreel/internal/config"
	"storyreel/internal/intake"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/workflow"
)

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	scheduler *cron.Cron
	triggers  sync.WaitGroup
	redis     *intake.RedisTrigger

	now func() time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	QueueDBPath  string
	LockFilePath string
	Inbox        string
	RedisList    string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.Component(logger, "daemon"),
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		now:      time.Now,
	}, nil
}

// Start acquires the daemon lock, then launches the workflow manager, the
// intake triggers and the maintenance schedule.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another storyreel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	scheduler, err := d.startMaintenance(runCtx)
	if err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}
	d.scheduler = scheduler
	d.cancel = cancel
	d.startTriggers(runCtx)

	d.running.Store(true)
	d.logger.Info("storyreel daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

func (d *Daemon) startMaintenance(ctx context.Context) (*cron.Cron, error) {
	schedule := strings.TrimSpace(d.cfg.Workflow.MaintenanceSchedule)
	if schedule == "" {
		return nil, nil
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(schedule, func() {
		if _, err := d.RunMaintenance(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "maintenance run failed", "maintenance_failed",
				logging.String(logging.FieldErrorHint, "check queue database and work directory access"),
				logging.Error(err),
			)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}
	scheduler.Start()
	return scheduler, nil
}

func (d *Daemon) startTriggers(ctx context.Context) {
	onQueued := func(*queue.Story) { d.workflow.Wake() }

	if d.cfg.Inbox.Enabled {
		watcher := intake.NewInboxWatcher(d.cfg.Inbox.Dir, d.store, d.logger, onQueued)
		d.triggers.Add(1)
		go func() {
			defer d.triggers.Done()
			if err := watcher.Run(ctx); err != nil {
				logging.ErrorWithContext(d.logger, "inbox watcher stopped", "inbox_failed",
					logging.String(logging.FieldErrorHint, "check inbox.dir exists and is writable"),
					logging.String(logging.FieldImpact, "manifests dropped into the inbox are not queued"),
					logging.Error(err),
				)
			}
		}()
	}

	if d.cfg.Redis.Enabled {
		trigger := intake.NewRedisTrigger(d.cfg.Redis, d.store, d.logger, onQueued)
		d.redis = trigger
		d.triggers.Add(1)
		go func() {
			defer d.triggers.Done()
			_ = trigger.Run(ctx)
		}()
	}
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
		d.scheduler = nil
	}
	d.triggers.Wait()
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Debug("redis close failed", logging.Error(err))
		}
		d.redis = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("storyreel daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		QueueDBPath:  d.cfg.QueueDBPath(),
		LockFilePath: d.lockPath,
	}
	if d.cfg.Inbox.Enabled {
		status.Inbox = d.cfg.Inbox.Dir
	}
	if d.cfg.Redis.Enabled {
		status.RedisList = d.cfg.Redis.Addr + "/" + d.cfg.Redis.Queue
	}
	return status
}
