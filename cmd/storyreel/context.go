package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
)

// commandContext carries the persistent flags and the lazily loaded config
// shared by every subcommand of one invocation.
type commandContext struct {
	configFile string
	asJSON     bool

	load sync.Once
	cfg  *config.Config
	err  error
}

func (c *commandContext) bindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "Configuration file path")
	flags.BoolVar(&c.asJSON, "json", false, "Emit machine-readable JSON")
}

// ensureConfig loads the config once and creates its directories.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.load.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err == nil {
			err = cfg.EnsureDirectories()
		}
		c.cfg, c.err = cfg, err
	})
	if c.err != nil {
		return nil, c.err
	}
	return c.cfg, nil
}

func (c *commandContext) configPath() string { return strings.TrimSpace(c.configFile) }

func (c *commandContext) jsonOutput() bool { return c.asJSON }

// withStore opens the queue for the duration of fn.
func (c *commandContext) withStore(fn func(cfg *config.Config, store *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// logger writes console logs at the configured level to the command's stderr.
func (c *commandContext) logger(cmd *cobra.Command) *slog.Logger {
	opts := logging.Options{Level: "info", Format: "console"}
	if cfg, err := c.ensureConfig(); err == nil {
		opts.Level = cfg.Logging.Level
	}
	logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), opts)
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// needsConfig is false when cmd or an ancestor carries the skipConfigLoad annotation.
func needsConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations["skipConfigLoad"] == "true" {
			return false
		}
	}
	return true
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
