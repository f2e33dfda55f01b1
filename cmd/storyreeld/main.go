// Command storyreeld runs the story queue daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, *configPath); err != nil {
		fmt.Fprintln(os.Stderr, "storyreeld:", err)
		stop()
		os.Exit(1)
	}
}

// serve runs the daemon until ctx ends.
func serve(ctx context.Context, configPath string) error {
	cfg, path, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "queue store unavailable", "startup_failed", logging.Error(err))
		return fmt.Errorf("open queue store: %w", err)
	}
	d, err := buildDaemon(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "startup_failed",
			logging.String(logging.FieldErrorHint, "another storyreeld may hold the lock; check `storyreel status`"),
			logging.Error(err),
		)
		return err
	}
	logger.Info("storyreeld ready", logging.String("config", path), logging.String("queue_db", cfg.QueueDBPath()))

	<-ctx.Done()
	logger.Info("storyreeld shutting down")
	return nil
}
