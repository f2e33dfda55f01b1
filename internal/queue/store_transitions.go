package queue

import (
	"context"
	"fmt"
	"time"
)

// ResetStuckProcessing returns every processing story to queued. Operators run
// it when neither the daemon nor a foreground run is active.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stories
         SET status = ?, current_step = 'Reset from stuck processing',
             heartbeat_at = NULL, updated_at = ?
         WHERE status = ?`,
		StatusQueued,
		time.Now().UTC().Format(timestampLayout),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck stories: %w", err)
	}
	return res.RowsAffected()
}

// UpdateHeartbeat updates the heartbeat timestamp for an in-flight story.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(timestampLayout)
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE stories SET heartbeat_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		now,
		id,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns processing stories whose heartbeat expired
// before cutoff to queued.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stories
         SET status = ?, current_step = 'Reclaimed from stale processing',
             heartbeat_at = NULL, updated_at = ?
         WHERE status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		StatusQueued,
		time.Now().UTC().Format(timestampLayout),
		StatusProcessing,
		cutoff.UTC().Format(timestampLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale stories: %w", err)
	}
	return res.RowsAffected()
}

// ReturnToQueue puts an interrupted story back in the queue, keeping its
// progress and checkpoints so the next run resumes.
func (s *Store) ReturnToQueue(ctx context.Context, id int64, reason string) error {
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE stories
         SET status = ?, current_step = ?, heartbeat_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusQueued,
		nullableString(reason),
		time.Now().UTC().Format(timestampLayout),
		id,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("return story to queue: %w", err)
	}
	return nil
}

// RetryFailed moves failed stories back to queued. With no ids, every failed
// story is retried. Completed checkpoints are kept.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	query := `UPDATE stories
        SET status = ?, current_step = 'Retry requested', error_message = NULL, updated_at = ?
        WHERE status = ?`
	args := []any{StatusQueued, time.Now().UTC().Format(timestampLayout), StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed stories: %w", err)
	}
	return res.RowsAffected()
}

// FinishedBefore returns ids of completed or failed stories last updated
// before cutoff.
func (s *Store) FinishedBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id FROM stories WHERE status IN (?, ?) AND updated_at < ? ORDER BY id`,
		StatusCompleted, StatusFailed, cutoff.UTC().Format(timestampLayout))
	if err != nil {
		return nil, fmt.Errorf("finished stories: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
