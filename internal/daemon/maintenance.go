package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"storyreel/internal/logging"
)

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	PrunedWorkDirs int
}

// RunMaintenance reclaims stale processing stories and removes the work
// directories of stories that finished more than workflow.work_retention_days
// ago. Archives in the output directory are never touched.
func (d *Daemon) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	if err := d.workflow.Heartbeat().ReclaimStaleStories(ctx, d.logger); err != nil {
		return report, fmt.Errorf("reclaim stale stories: %w", err)
	}

	days := d.cfg.Workflow.WorkRetentionDays
	if days <= 0 {
		return report, nil
	}
	cutoff := d.now().Add(-time.Duration(days) * 24 * time.Hour)
	ids, err := d.store.FinishedBefore(ctx, cutoff)
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		dir := d.cfg.StoryWorkDir(id)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			d.logger.Warn("failed to prune work directory",
				logging.Int64(logging.FieldStoryID, id),
				logging.String("dir", dir),
				logging.Error(err),
			)
			continue
		}
		report.PrunedWorkDirs++
	}
	if report.PrunedWorkDirs > 0 {
		d.logger.Info("pruned story work directories",
			logging.String(logging.FieldEventType, "maintenance_pruned"),
			logging.Int("count", report.PrunedWorkDirs),
			logging.Int("retention_days", days),
		)
	}
	return report, nil
}
