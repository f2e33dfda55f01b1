package workflow

import (
	"context"
	"sort"

	"storyreel/internal/logging"
	"storyreel/internal/queue"
)

// ActiveStory identifies a story a worker is running.
type ActiveStory struct {
	ID    int64
	Title string
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running    bool
	Workers    int
	Active     []ActiveStory
	LastError  string
	LastStory  *queue.Story
	QueueStats map[queue.Status]int
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, Workers: m.cfg.Workflow.MaxConcurrentStories}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastStory != nil {
		cp := *m.lastStory
		summary.LastStory = &cp
	}
	for id, title := range m.active {
		summary.Active = append(summary.Active, ActiveStory{ID: id, Title: title})
	}
	m.mu.RUnlock()
	sort.Slice(summary.Active, func(i, j int) bool { return summary.Active[i].ID < summary.Active[j].ID })

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastStory(story *queue.Story) {
	m.mu.Lock()
	if story != nil {
		cp := *story
		m.lastStory = &cp
	} else {
		m.lastStory = nil
	}
	m.mu.Unlock()
}
