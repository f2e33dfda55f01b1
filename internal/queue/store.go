package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"storyreel/internal/config"
	"storyreel/internal/services"
)

// Store manages story persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Open initializes or connects to the queue database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.QueueDBPath()
	// Pragmas in the DSN apply to every pooled connection.
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// NewStory validates and inserts a story. Stories start queued unless the
// caller explicitly asks for StatusCreated.
func (s *Store) NewStory(ctx context.Context, story Story) (*Story, error) {
	story.Title = strings.TrimSpace(story.Title)
	story.SourceText = strings.TrimSpace(story.SourceText)
	story.TargetLanguage = strings.TrimSpace(story.TargetLanguage)
	if story.Title == "" {
		return nil, services.Wrap(services.ErrValidation, "", "new story", "title is required", nil)
	}
	if story.SourceText == "" {
		return nil, services.Wrap(services.ErrValidation, "", "new story", "source text is required", nil)
	}
	if story.TargetLanguage == "" {
		return nil, services.Wrap(services.ErrValidation, "", "new story", "target language is required", nil)
	}
	format, ok := ParseFormat(string(story.Format))
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "", "new story", fmt.Sprintf("unknown format %q", story.Format), nil)
	}
	if story.Status == "" {
		story.Status = StatusQueued
	}
	if story.Status != StatusQueued && story.Status != StatusCreated {
		return nil, services.Wrap(services.ErrValidation, "", "new story", fmt.Sprintf("cannot create story as %s", story.Status), nil)
	}

	timestamp := time.Now().UTC().Format(timestampLayout)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO stories (
            title, source_text, format, source_language, target_language, target_locale,
            voice_id, mood, status, progress, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		story.Title,
		story.SourceText,
		format,
		nullableString(strings.TrimSpace(story.SourceLanguage)),
		story.TargetLanguage,
		nullableString(strings.TrimSpace(story.TargetLocale)),
		nullableString(strings.TrimSpace(story.VoiceID)),
		nullableString(strings.TrimSpace(story.Mood)),
		story.Status,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert story: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a story by identifier. A missing story returns nil, nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*Story, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	story, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	return story, nil
}

// MustGet fetches a story and reports a not-found error when it is missing.
func (s *Store) MustGet(ctx context.Context, id int64) (*Story, error) {
	story, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if story == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "get story", fmt.Sprintf("story %d not found", id), nil)
	}
	return story, nil
}

// Update persists the mutable output fields of a story. Stored progress only
// moves forward. While the story is processing the heartbeat belongs to Claim
// and UpdateHeartbeat; any other status clears it.
func (s *Store) Update(ctx context.Context, story *Story) error {
	if story == nil {
		return errors.New("story is nil")
	}
	story.UpdatedAt = time.Now().UTC()
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE stories
         SET title = ?, status = ?, progress = MAX(progress, ?), current_step = ?, error_message = ?,
             source_language = ?, target_locale = ?, voice_id = ?, mood = ?,
             detected_language = ?, translated_text = ?, adapted_text = ?, archive_path = ?,
             run_id = ?, heartbeat_at = CASE WHEN ? = ? THEN heartbeat_at ELSE NULL END, updated_at = ?
         WHERE id = ?`,
		story.Title,
		story.Status,
		story.Progress,
		nullableString(story.CurrentStep),
		nullableString(story.ErrorMessage),
		nullableString(story.SourceLanguage),
		nullableString(story.TargetLocale),
		nullableString(story.VoiceID),
		nullableString(story.Mood),
		nullableString(story.DetectedLanguage),
		nullableString(story.TranslatedText),
		nullableString(story.AdaptedText),
		nullableString(story.ArchivePath),
		nullableString(story.RunID),
		story.Status,
		StatusProcessing,
		story.UpdatedAt.Format(timestampLayout),
		story.ID,
	)
	if err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	return nil
}

// UpdateProgress records the current step and status. Progress never moves
// backwards: the stored value is the maximum of the old and new values.
func (s *Store) UpdateProgress(ctx context.Context, id int64, progress int, step string, status Status) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE stories
         SET progress = MAX(progress, ?), current_step = ?, status = ?, updated_at = ?
         WHERE id = ?`,
		progress,
		nullableString(step),
		status,
		time.Now().UTC().Format(timestampLayout),
		id,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// List returns stories filtered by status set (or all stories when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Story, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + storyColumns + ` FROM stories`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var stories []*Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

// ClaimNext atomically moves the oldest queued story to processing and
// returns it. It returns nil, nil when nothing is queued.
func (s *Store) ClaimNext(ctx context.Context, runID string) (*Story, error) {
	ctx = ensureContext(ctx)
	for {
		row := s.db.QueryRowContext(ctx,
			`SELECT id FROM stories WHERE status = ? ORDER BY created_at, id LIMIT 1`, StatusQueued)
		var id int64
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("select queued story: %w", err)
		}
		claimed, err := s.Claim(ctx, id, runID)
		if err != nil {
			return nil, err
		}
		if claimed {
			return s.GetByID(ctx, id)
		}
		// Another worker won the race; look again.
	}
}

// Claim moves a queued, created, or failed story to processing for runID.
// It reports false when the story is already processing or completed.
func (s *Store) Claim(ctx context.Context, id int64, runID string) (bool, error) {
	now := time.Now().UTC().Format(timestampLayout)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stories
         SET status = ?, run_id = ?, heartbeat_at = ?, error_message = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?, ?)`,
		StatusProcessing,
		nullableString(runID),
		now,
		now,
		id,
		StatusQueued,
		StatusCreated,
		StatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("claim story: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Enqueue moves a created story to queued.
func (s *Store) Enqueue(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE stories SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusQueued,
		time.Now().UTC().Format(timestampLayout),
		id,
		StatusCreated,
	)
	if err != nil {
		return false, fmt.Errorf("enqueue story: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Remove deletes a story with its scenes and checkpoints.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		for _, query := range []string{
			`DELETE FROM scenes WHERE story_id = ?`,
			`DELETE FROM checkpoints WHERE story_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, query, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if affected, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return false, fmt.Errorf("delete story: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes completed stories.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	stories, err := s.List(ctx, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	var removed int64
	for _, story := range stories {
		ok, err := s.Remove(ctx, story.ID)
		if err != nil {
			return removed, fmt.Errorf("clear completed: %w", err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}
