package main

import (
	"fmt"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"storyreel/internal/config"
	"storyreel/internal/preflight"
	"storyreel/internal/queue"
)

type statusReport struct {
	DaemonRunning bool                 `json:"daemon_running"`
	ConfigPath    string               `json:"config_path,omitempty"`
	QueueDB       string               `json:"queue_db"`
	Queue         map[queue.Status]int `json:"queue"`
	Checks        []checkResult        `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var skipLLM bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue and readiness status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				running, err := daemonRunning(cfg)
				if err != nil {
					return err
				}
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				results := append(preflight.RunAll(cmd.Context(), cfg), preflight.CheckQueue(cmd.Context(), store))
				if !skipLLM {
					results = append(results, preflight.CheckLLMFromConfig(cmd.Context(), cfg))
				}

				report := statusReport{
					DaemonRunning: running,
					ConfigPath:    ctx.configPath(),
					QueueDB:       cfg.QueueDBPath(),
					Queue:         stats,
				}
				for _, r := range results {
					report.Checks = append(report.Checks, checkResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				renderStatus(cmd, report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipLLM, "skip-llm", false, "Skip the LLM round-trip check")
	return cmd
}

// daemonRunning tries the daemon lock; a lock we can take means no daemon holds it.
func daemonRunning(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("check daemon lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

func renderStatus(cmd *cobra.Command, report statusReport) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if report.DaemonRunning {
		fmt.Fprintln(out, renderStatusLine("storyreeld", statusOK, "running", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("storyreeld", statusWarn, "not running", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Queue database", statusInfo, report.QueueDB, colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Queue", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, status := range queue.AllStatuses() {
		kind := statusInfo
		if status == queue.StatusFailed && report.Queue[status] > 0 {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine(string(status), kind, fmt.Sprintf("%d", report.Queue[status]), colorize))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Readiness", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
}

