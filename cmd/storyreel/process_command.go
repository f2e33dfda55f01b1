package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/notifications"
	"storyreel/internal/pipeline"
	"storyreel/internal/providers"
	"storyreel/internal/queue"
	"storyreel/internal/stage"
	"storyreel/internal/workflow"
)

// providerFactory builds the provider set for foreground runs.
var providerFactory providers.Factory = providers.FromConfig{}

type processResult struct {
	ID          int64    `json:"id"`
	RunID       string   `json:"run_id"`
	Status      string   `json:"status"`
	Archive     string   `json:"archive,omitempty"`
	Skipped     []string `json:"skipped_steps,omitempty"`
	Degraded    int      `json:"degraded_scenes"`
	Warnings    []string `json:"warnings,omitempty"`
	DurationSec float64  `json:"duration_seconds"`
	Error       string   `json:"error,omitempty"`
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <id>",
		Short: "Run one story through the pipeline in the foreground",
		Long: "Run one story through the pipeline in the foreground.\n\n" +
			"Completed steps are skipped, so a failed or interrupted story resumes\n" +
			"where it stopped. Ctrl-C returns the story to the queue.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid story id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				logger := ctx.logger(cmd)
				// The daemon reclaims stories with stale heartbeats, foreground runs included.
				heartbeat := workflow.NewHeartbeatMonitor(store, logger,
					time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
					time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second)
				orch := pipeline.New(cfg, store, providerFactory, logger,
					pipeline.WithNotifier(notifications.NewService(cfg)),
					pipeline.WithHeartbeat(heartbeat))
				result := orch.ProcessStory(cmd.Context(), id)

				var archive string
				if story, err := store.GetByID(cmd.Context(), id); err == nil && story != nil {
					archive = story.ArchivePath
				}
				summary := processResult{
					ID:          id,
					RunID:       result.RunID,
					Status:      string(result.FinalStatus),
					Archive:     archive,
					Skipped:     result.Skipped,
					Degraded:    len(result.Degraded),
					Warnings:    result.Warnings,
					DurationSec: result.Duration.Seconds(),
				}
				if result.Err != nil {
					summary.Error = result.Err.Error()
				}

				if ctx.jsonOutput() {
					if err := writeJSON(cmd, summary); err != nil {
						return err
					}
				} else {
					printProcessResult(cmd, summary, result)
				}
				if result.Canceled() {
					return errors.New("run interrupted; story returned to the queue")
				}
				return result.Err
			})
		},
	}
}

func printProcessResult(cmd *cobra.Command, summary processResult, result pipeline.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Story %d: %s\n", summary.ID, summary.Status)
	if len(summary.Skipped) > 0 {
		labels := make([]string, 0, len(summary.Skipped))
		for _, step := range summary.Skipped {
			labels = append(labels, stage.Label(step))
		}
		fmt.Fprintf(out, "Resumed past: %s\n", strings.Join(labels, ", "))
	}
	if summary.Archive != "" {
		fmt.Fprintf(out, "Archive: %s\n", summary.Archive)
	}
	if len(result.Degraded) > 0 {
		rows := make([][]string, 0, len(result.Degraded))
		for _, d := range result.Degraded {
			rows = append(rows, []string{strconv.Itoa(d.SceneNumber), d.Media, d.Error})
		}
		fmt.Fprintln(out, "Degraded scenes:")
		fmt.Fprint(out, renderTable([]string{"Scene", "Media", "Error"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft}))
	}
	for _, w := range summary.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
}
