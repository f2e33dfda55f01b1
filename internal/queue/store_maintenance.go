package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// DatabaseHealth is the result of a structural check of the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TablesPresent    []string
	MissingTables    []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalStories     int
	TotalScenes      int
	Error            string
}

// OK reports a readable database with the full schema and a clean integrity check.
func (h DatabaseHealth) OK() bool {
	return h.DatabaseReadable && h.IntegrityCheck && len(h.MissingTables) == 0 && len(h.MissingColumns) == 0
}

var expectedTables = []string{"stories", "scenes", "checkpoints"}

const healthTimeout = 2 * time.Second

// Stats counts stories per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM stories GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int, len(AllStatuses()))
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("queue stats: %w", err)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}

// Health folds the per-status counts into lifecycle buckets. Held stories
// count as queued.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	var sum HealthSummary
	for status, n := range stats {
		sum.Total += n
		switch status {
		case StatusQueued, StatusCreated:
			sum.Queued += n
		case StatusProcessing:
			sum.Processing += n
		case StatusFailed:
			sum.Failed += n
		case StatusCompleted:
			sum.Completed += n
		}
	}
	return sum, nil
}

// CheckHealth inspects the database file, its schema and its integrity.
// A missing file is reported through DatabaseExists rather than an error.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}
	switch info, err := os.Stat(s.path); {
	case errors.Is(err, os.ErrNotExist):
		return health, nil
	case err != nil:
		return health, fmt.Errorf("stat queue database: %w", err)
	case info.IsDir():
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true
	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	ctx, cancel := context.WithTimeout(ensureContext(ctx), healthTimeout)
	defer cancel()

	fail := func(op string, err error) (DatabaseHealth, error) {
		health.Error = err.Error()
		return health, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fail("ping queue database", err)
	}
	health.DatabaseReadable = true

	tables, err := s.queryNames(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return fail("list tables", err)
	}
	health.TablesPresent = tables
	for _, table := range expectedTables {
		if !slices.Contains(tables, table) {
			health.MissingTables = append(health.MissingTables, table)
		}
	}
	if version, err := s.readSchemaVersion(ctx); err == nil {
		health.SchemaVersion = version
	}

	if slices.Contains(tables, "stories") {
		columns, err := s.queryNames(ctx, `SELECT name FROM pragma_table_info('stories')`)
		if err != nil {
			return fail("stories columns", err)
		}
		for _, col := range strings.Split(storyColumns, ", ") {
			if !slices.Contains(columns, col) {
				health.MissingColumns = append(health.MissingColumns, col)
			}
		}
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories`).Scan(&health.TotalStories); err != nil {
			return fail("count stories", err)
		}
	}
	if slices.Contains(tables, "scenes") {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scenes`).Scan(&health.TotalScenes); err != nil {
			return fail("count scenes", err)
		}
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&integrity); err != nil {
		return fail("integrity check", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}

// queryNames collects a single text column.
func (s *Store) queryNames(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
