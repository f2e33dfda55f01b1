package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/queue"
	"storyreel/internal/stage"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the story queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueEnqueueCommand(ctx))
	queueCmd.AddCommand(newQueueResetStuckCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))

	return queueCmd
}

type storyRow struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Step     string `json:"step"`
	Target   string `json:"target_language"`
	Created  string `json:"created_at"`
	Error    string `json:"error,omitempty"`
}

func toStoryRow(s *queue.Story) storyRow {
	return storyRow{
		ID:       s.ID,
		Title:    s.Title,
		Status:   string(s.Status),
		Progress: s.Progress,
		Step:     stepLabel(s.CurrentStep),
		Target:   s.TargetLanguage,
		Created:  s.CreatedAt.Format(time.RFC3339),
		Error:    s.ErrorMessage,
	}
}

// stepLabel renders pipeline step names for humans and passes anything else
// (like "Daemon stopped") through.
func stepLabel(step string) string {
	if stage.Known(step) || step == stage.Complete {
		return stage.Label(step)
	}
	return step
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(statusFilters))
			for _, value := range statusFilters {
				status, ok := queue.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				stories, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				rows := make([]storyRow, 0, len(stories))
				for _, s := range stories {
					rows = append(rows, toStoryRow(s))
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"stories": rows})
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := make([][]string, 0, len(rows))
				for _, r := range rows {
					table = append(table, []string{
						strconv.FormatInt(r.ID, 10), r.Title, r.Status, fmt.Sprintf("%d%%", r.Progress), r.Step, r.Target,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Status", "Progress", "Step", "Target"},
					table,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFilters, "status", "s", nil, "Filter by status (repeatable)")
	return cmd
}

type checkpointRow struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

type sceneRow struct {
	Number   int     `json:"number"`
	Status   string  `json:"status"`
	Image    bool    `json:"has_image"`
	Duration float64 `json:"duration_seconds"`
	Error    string  `json:"error,omitempty"`
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a story with its step checkpoints and scenes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				story, err := store.MustGet(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				checkpoints, err := store.ListCheckpoints(cmd.Context(), story.ID)
				if err != nil {
					return err
				}
				scenes, err := store.ListScenes(cmd.Context(), story.ID)
				if err != nil {
					return err
				}

				cpRows := make([]checkpointRow, 0, len(checkpoints))
				for _, cp := range checkpoints {
					cpRows = append(cpRows, checkpointRow{Step: cp.Step, Status: string(cp.Status), Summary: cp.Summary, Error: cp.Error})
				}
				sceneRows := make([]sceneRow, 0, len(scenes))
				for _, sc := range scenes {
					duration := sc.ActualDuration
					if duration <= 0 {
						duration = sc.EstimatedDuration
					}
					sceneRows = append(sceneRows, sceneRow{
						Number: sc.Number, Status: string(sc.Status), Image: sc.HasImage,
						Duration: duration.Seconds(), Error: sc.ErrorMessage,
					})
				}

				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{
						"story":       toStoryRow(story),
						"archive":     story.ArchivePath,
						"checkpoints": cpRows,
						"scenes":      sceneRows,
					})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Story %d: %s\n", story.ID, story.Title)
				fmt.Fprintf(out, "Status: %s (%d%%, %s)\n", story.Status, story.Progress, stepLabel(story.CurrentStep))
				lang := story.EffectiveSourceLanguage()
				if lang == "" {
					lang = "undetected"
				}
				fmt.Fprintf(out, "Languages: %s -> %s\n", lang, story.TargetLanguage)
				if story.ArchivePath != "" {
					fmt.Fprintf(out, "Archive: %s\n", story.ArchivePath)
				}
				if story.ErrorMessage != "" {
					fmt.Fprintf(out, "Error: %s\n", story.ErrorMessage)
				}
				if len(cpRows) > 0 {
					rows := make([][]string, 0, len(cpRows))
					for _, r := range cpRows {
						detail := r.Summary
						if r.Error != "" {
							detail = r.Error
						}
						rows = append(rows, []string{stage.Label(r.Step), r.Status, detail})
					}
					fmt.Fprint(out, renderTable([]string{"Step", "Status", "Detail"}, rows, nil))
				}
				if len(sceneRows) > 0 {
					rows := make([][]string, 0, len(sceneRows))
					for _, r := range sceneRows {
						rows = append(rows, []string{
							strconv.Itoa(r.Number), r.Status, yesNo(r.Image), fmt.Sprintf("%.1fs", r.Duration), r.Error,
						})
					}
					fmt.Fprint(out, renderTable(
						[]string{"Scene", "Status", "Image", "Duration", "Error"},
						rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
					))
				}
				return nil
			})
		},
	}
}

type idOutcome struct {
	ID      int64  `json:"id"`
	Outcome string `json:"outcome"`
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed stories (all failed stories when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				if len(ids) == 0 {
					count, err := store.RetryFailed(cmd.Context())
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, map[string]any{"retried": count})
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed stories\n", count)
					return nil
				}

				outcomes := make([]idOutcome, 0, len(ids))
				for _, id := range ids {
					story, err := store.GetByID(cmd.Context(), id)
					if err != nil {
						return err
					}
					switch {
					case story == nil:
						outcomes = append(outcomes, idOutcome{ID: id, Outcome: "not_found"})
					case story.Status != queue.StatusFailed:
						outcomes = append(outcomes, idOutcome{ID: id, Outcome: "not_failed"})
					default:
						if _, err := store.RetryFailed(cmd.Context(), id); err != nil {
							return err
						}
						outcomes = append(outcomes, idOutcome{ID: id, Outcome: "retried"})
					}
				}
				return printOutcomes(cmd, ctx, outcomes, map[string]string{
					"not_found":  "Story %d not found",
					"not_failed": "Story %d is not failed (only failed stories can be retried)",
					"retried":    "Story %d requeued; completed steps will be skipped",
				})
			})
		},
	}
}

func newQueueEnqueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <id>...",
		Short: "Queue stories that were added with --hold",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				outcomes := make([]idOutcome, 0, len(ids))
				for _, id := range ids {
					ok, err := store.Enqueue(cmd.Context(), id)
					if err != nil {
						return err
					}
					outcome := "queued"
					if !ok {
						outcome = "not_created"
					}
					outcomes = append(outcomes, idOutcome{ID: id, Outcome: outcome})
				}
				return printOutcomes(cmd, ctx, outcomes, map[string]string{
					"queued":      "Story %d queued",
					"not_created": "Story %d is missing or not held",
				})
			})
		},
	}
}

func newQueueResetStuckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return processing stories to the queue (use when no daemon is running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				count, err := store.ResetStuckProcessing(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"reset": count})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d processing stories\n", count)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Delete stories with their scenes and checkpoints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *queue.Store) error {
				outcomes := make([]idOutcome, 0, len(ids))
				for _, id := range ids {
					removed, err := store.Remove(cmd.Context(), id)
					if err != nil {
						return err
					}
					outcome := "removed"
					if !removed {
						outcome = "not_found"
					}
					outcomes = append(outcomes, idOutcome{ID: id, Outcome: outcome})
				}
				return printOutcomes(cmd, ctx, outcomes, map[string]string{
					"removed":   "Story %d removed",
					"not_found": "Story %d not found",
				})
			})
		},
	}
}

func printOutcomes(cmd *cobra.Command, ctx *commandContext, outcomes []idOutcome, formats map[string]string) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, map[string]any{"items": outcomes})
	}
	out := cmd.OutOrStdout()
	for _, o := range outcomes {
		fmt.Fprintf(out, formats[o.Outcome]+"\n", o.ID)
	}
	return nil
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid story id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
