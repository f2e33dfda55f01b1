package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a story.
type Status string

const (
	StatusCreated    Status = "created"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DaemonStopReason is the progress label set when a run is interrupted by shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusCreated,
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Format describes how the story source text is structured.
type Format string

const (
	// FormatProse is untimed text split on paragraphs.
	FormatProse Format = "prose"
	// FormatTranscript is "[HH:MM:SS] text" lines.
	FormatTranscript Format = "transcript"
)

// ParseFormat normalizes a format name; empty means prose.
func ParseFormat(value string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatProse:
		return FormatProse, true
	case FormatTranscript:
		return FormatTranscript, true
	default:
		return "", false
	}
}

// Story is one unit of pipeline work persisted in SQLite.
type Story struct {
	ID               int64
	Title            string
	SourceText       string
	Format           Format
	SourceLanguage   string
	TargetLanguage   string
	TargetLocale     string
	VoiceID          string
	Mood             string
	Status           Status
	Progress         int
	CurrentStep      string
	ErrorMessage     string
	DetectedLanguage string
	TranslatedText   string
	AdaptedText      string
	ArchivePath      string
	RunID            string
	HeartbeatAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EffectiveSourceLanguage returns the declared source language or the detected one.
func (s Story) EffectiveSourceLanguage() string {
	if lang := strings.TrimSpace(s.SourceLanguage); lang != "" {
		return lang
	}
	return strings.TrimSpace(s.DetectedLanguage)
}

// IsTerminal reports whether the story finished, successfully or not.
func (s Story) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// SetFailed marks the story as failed with the given error message.
func (s *Story) SetFailed(message string) {
	s.Status = StatusFailed
	s.ErrorMessage = message
	s.HeartbeatAt = nil
}

// SceneStatus represents per-scene media progress.
type SceneStatus string

const (
	ScenePending    SceneStatus = "pending"
	SceneProcessing SceneStatus = "processing"
	SceneCompleted  SceneStatus = "completed"
	SceneFailed     SceneStatus = "failed"
)

// Scene is one narrated span of a story.
type Scene struct {
	StoryID           int64
	Number            int
	Text              string
	AdaptedText       string
	HasImage          bool
	ImageIndex        int
	EarlyWindow       bool
	EstimatedDuration time.Duration
	ActualDuration    time.Duration
	VisualPrompt      string
	ImagePath         string
	AudioPath         string
	ImageStatus       SceneStatus
	AudioStatus       SceneStatus
	Status            SceneStatus
	ErrorMessage      string
}

// NarrationText returns the adapted text when present.
func (s Scene) NarrationText() string {
	if t := strings.TrimSpace(s.AdaptedText); t != "" {
		return t
	}
	return strings.TrimSpace(s.Text)
}

// RecomputeStatus derives the overall scene status from its media statuses.
// A scene is failed when any required media failed, completed when all required
// media completed, and pending otherwise.
func (s *Scene) RecomputeStatus() {
	required := []SceneStatus{s.AudioStatus}
	if s.HasImage {
		required = append(required, s.ImageStatus)
	}
	done := true
	for _, st := range required {
		if st == SceneFailed {
			s.Status = SceneFailed
			return
		}
		if st != SceneCompleted {
			done = false
		}
	}
	if done {
		s.Status = SceneCompleted
		return
	}
	if s.ImageStatus == SceneProcessing || s.AudioStatus == SceneProcessing {
		s.Status = SceneProcessing
		return
	}
	s.Status = ScenePending
}

// CheckpointStatus tracks one step of one story.
type CheckpointStatus string

const (
	CheckpointRunning   CheckpointStatus = "running"
	CheckpointCompleted CheckpointStatus = "completed"
	CheckpointFailed    CheckpointStatus = "failed"
)

// Checkpoint records the outcome of a pipeline step keyed by (story, step).
type Checkpoint struct {
	StoryID     int64
	Step        string
	Status      CheckpointStatus
	RunID       string
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	Summary     string
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Failed     int
	Completed  int
}
