package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCheckpoint returns the checkpoint for (story, step), or nil when the
// step has never started.
func (s *Store) GetCheckpoint(ctx context.Context, storyID int64, step string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE story_id = ? AND step = ?`, storyID, step)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return &cp, nil
}

// SaveCheckpoint upserts a checkpoint keyed by (story, step).
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.Step == "" {
		return errors.New("checkpoint step is required")
	}
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now().UTC()
	}
	err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO checkpoints (story_id, step, status, run_id, started_at, completed_at, error, summary)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(story_id, step) DO UPDATE SET
             status = excluded.status,
             run_id = excluded.run_id,
             started_at = excluded.started_at,
             completed_at = excluded.completed_at,
             error = excluded.error,
             summary = excluded.summary`,
		cp.StoryID,
		cp.Step,
		cp.Status,
		nullableString(cp.RunID),
		cp.StartedAt.UTC().Format(timestampLayout),
		nullableTime(cp.CompletedAt),
		nullableString(cp.Error),
		nullableString(cp.Summary),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.Step, err)
	}
	return nil
}

// ListCheckpoints returns a story's checkpoints in start order.
func (s *Store) ListCheckpoints(ctx context.Context, storyID int64) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE story_id = ? ORDER BY started_at, step`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// ClearCheckpoints removes checkpoints for a story. When steps are given only
// those are removed, forcing them to run again.
func (s *Store) ClearCheckpoints(ctx context.Context, storyID int64, steps ...string) (int64, error) {
	query := `DELETE FROM checkpoints WHERE story_id = ?`
	args := []any{storyID}
	if len(steps) > 0 {
		query += ` AND step IN (` + makePlaceholders(len(steps)) + `)`
		for _, step := range steps {
			args = append(args, step)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear checkpoints: %w", err)
	}
	return res.RowsAffected()
}
