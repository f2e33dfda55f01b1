package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReplaceScenes swaps the story's scenes for the provided set in one
// transaction. Scene numbers must be contiguous from 1.
func (s *Store) ReplaceScenes(ctx context.Context, storyID int64, scenes []Scene) error {
	ctx = ensureContext(ctx)
	for i, scene := range scenes {
		if scene.Number != i+1 {
			return fmt.Errorf("replace scenes: scene %d has number %d", i+1, scene.Number)
		}
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin scenes tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM scenes WHERE story_id = ?`, storyID); err != nil {
			return fmt.Errorf("delete scenes: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO scenes (`+sceneColumns+`) VALUES (`+makePlaceholders(sceneColumnCount)+`)`)
		if err != nil {
			return fmt.Errorf("prepare scene insert: %w", err)
		}
		defer stmt.Close()
		for _, scene := range scenes {
			scene.StoryID = storyID
			normalizeSceneStatuses(&scene)
			if _, err := stmt.ExecContext(ctx, sceneArgs(scene)...); err != nil {
				return fmt.Errorf("insert scene %d: %w", scene.Number, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE stories SET updated_at = ? WHERE id = ?`,
			time.Now().UTC().Format(timestampLayout), storyID); err != nil {
			return fmt.Errorf("touch story: %w", err)
		}
		return tx.Commit()
	})
}

// ListScenes returns the story's scenes ordered by number.
func (s *Store) ListScenes(ctx context.Context, storyID int64) ([]Scene, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+sceneColumns+` FROM scenes WHERE story_id = ? ORDER BY number`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, scene)
	}
	return scenes, rows.Err()
}

// UpdateScene persists one scene in place. The overall status is recomputed
// from the media statuses before writing.
func (s *Store) UpdateScene(ctx context.Context, scene *Scene) error {
	if scene == nil {
		return errors.New("scene is nil")
	}
	normalizeSceneStatuses(scene)
	scene.RecomputeStatus()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE scenes
         SET text = ?, adapted_text = ?, has_image = ?, image_index = ?, early_window = ?,
             estimated_ms = ?, actual_ms = ?, visual_prompt = ?, image_path = ?, audio_path = ?,
             image_status = ?, audio_status = ?, status = ?, error_message = ?
         WHERE story_id = ? AND number = ?`,
		scene.Text,
		nullableString(scene.AdaptedText),
		boolToInt(scene.HasImage),
		scene.ImageIndex,
		boolToInt(scene.EarlyWindow),
		scene.EstimatedDuration.Milliseconds(),
		scene.ActualDuration.Milliseconds(),
		nullableString(scene.VisualPrompt),
		nullableString(scene.ImagePath),
		nullableString(scene.AudioPath),
		scene.ImageStatus,
		scene.AudioStatus,
		scene.Status,
		nullableString(scene.ErrorMessage),
		scene.StoryID,
		scene.Number,
	)
	if err != nil {
		return fmt.Errorf("update scene %d: %w", scene.Number, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update scene %d: story %d has no such scene", scene.Number, scene.StoryID)
	}
	return nil
}

func normalizeSceneStatuses(scene *Scene) {
	if scene.ImageStatus == "" {
		scene.ImageStatus = ScenePending
	}
	if scene.AudioStatus == "" {
		scene.AudioStatus = ScenePending
	}
	if scene.Status == "" {
		scene.Status = ScenePending
	}
}
