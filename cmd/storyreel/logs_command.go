package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/logs"
	"storyreel/internal/queue"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show the latest run log of a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				if _, err := store.MustGet(cmd.Context(), ids[0]); err != nil {
					return err
				}
				path, err := logs.LatestStoryFile(cfg.Logging.Dir, ids[0])
				if err != nil {
					return err
				}
				if path == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Story %d has no run logs yet\n", ids[0])
					return nil
				}
				return streamLog(cmd, path, lines, follow)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	return cmd
}

func streamLog(cmd *cobra.Command, path string, lines int, follow bool) error {
	out := cmd.OutOrStdout()
	result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines})
	if err != nil {
		return err
	}
	for _, line := range result.Lines {
		fmt.Fprintln(out, line)
	}
	for follow {
		result, err = logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: result.Offset, Follow: true, Wait: 2 * time.Second})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for _, line := range result.Lines {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
