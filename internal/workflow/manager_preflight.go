package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"storyreel/internal/logging"
	"storyreel/internal/preflight"
)

// runPreflightChecks validates directory and provider readiness before a claim.
// Returns nil when all checks pass, or an error describing all failures.
func (m *Manager) runPreflightChecks(ctx context.Context, logger *slog.Logger) error {
	if m.preflight == nil {
		return nil
	}
	failed := preflight.Failed(m.preflight(ctx))
	if len(failed) == 0 {
		return nil
	}

	failures := make([]string, 0, len(failed))
	for _, r := range failed {
		logger.Error("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "fix the reported issue; the worker retries automatically"),
		)
		failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return fmt.Errorf("preflight checks failed: %s", strings.Join(failures, "; "))
}
