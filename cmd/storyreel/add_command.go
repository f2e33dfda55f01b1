package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/intake"
	"storyreel/internal/notifications"
	"storyreel/internal/queue"
)

type addResult struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	TargetLanguage string `json:"target_language"`
	Status         string `json:"status"`
	Manifest       string `json:"manifest"`
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var hold bool

	cmd := &cobra.Command{
		Use:   "add <manifest.yaml>...",
		Short: "Queue stories from YAML manifests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifests := make([]intake.Manifest, 0, len(args))
			for _, path := range args {
				m, err := intake.LoadManifest(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				manifests = append(manifests, m)
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				notifier := notifications.NewService(cfg)
				results := make([]addResult, 0, len(manifests))
				for i, m := range manifests {
					story := m.Story()
					if hold {
						story.Status = queue.StatusCreated
					}
					created, err := store.NewStory(cmd.Context(), story)
					if err != nil {
						return fmt.Errorf("%s: %w", args[i], err)
					}
					results = append(results, addResult{
						ID:             created.ID,
						Title:          created.Title,
						TargetLanguage: created.TargetLanguage,
						Status:         string(created.Status),
						Manifest:       args[i],
					})
					if created.Status == queue.StatusQueued {
						_ = notifier.Publish(cmd.Context(), notifications.EventStoryQueued, notifications.Payload{
							"title": created.Title,
							"id":    created.ID,
						})
					}
				}

				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"stories": results})
				}
				out := cmd.OutOrStdout()
				for _, r := range results {
					verb := "Queued"
					if r.Status == string(queue.StatusCreated) {
						verb = "Created (held)"
					}
					fmt.Fprintf(out, "%s story %d: %s -> %s\n", verb, r.ID, r.Title, r.TargetLanguage)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&hold, "hold", false, "Create stories without queueing them")
	return cmd
}
