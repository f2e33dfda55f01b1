package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"storyreel/internal/language"
	"storyreel/internal/queue"
	"storyreel/internal/transcript"
	"storyreel/internal/services"
)

// Manifest describes one story submission.
type Manifest struct {
	Title          string `yaml:"title"`
	Format         string `yaml:"format"`
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`
	TargetLocale   string `yaml:"target_locale"`
	Voice          string `yaml:"voice"`
	Mood           string `yaml:"mood"`
	Text           string `yaml:"text"`
	TextFile       string `yaml:"text_file"`
}

// LoadManifest reads and validates a manifest file. A relative text_file
// resolves against the manifest's directory.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

// ParseManifest decodes and validates manifest YAML. With an empty baseDir the
// manifest must carry its text inline.
func ParseManifest(data []byte, baseDir string) (Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, invalid("manifest is empty", nil)
		}
		return Manifest{}, invalid("decode manifest", err)
	}

	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		return Manifest{}, invalid("title is required", nil)
	}

	format, ok := queue.ParseFormat(m.Format)
	if !ok {
		return Manifest{}, invalid(fmt.Sprintf("unknown format %q (want prose or transcript)", m.Format), nil)
	}
	m.Format = string(format)

	target, ok := language.Normalize(m.TargetLanguage)
	if !ok {
		if strings.TrimSpace(m.TargetLanguage) == "" {
			return Manifest{}, invalid("target_language is required", nil)
		}
		return Manifest{}, invalid(fmt.Sprintf("unknown target_language %q", m.TargetLanguage), nil)
	}
	m.TargetLanguage = target

	if strings.TrimSpace(m.SourceLanguage) != "" {
		source, ok := language.Normalize(m.SourceLanguage)
		if !ok {
			return Manifest{}, invalid(fmt.Sprintf("unknown source_language %q", m.SourceLanguage), nil)
		}
		m.SourceLanguage = source
	}
	m.TargetLocale = language.Locale(m.TargetLocale)
	m.Voice = strings.TrimSpace(m.Voice)
	m.Mood = strings.TrimSpace(m.Mood)

	hasText := strings.TrimSpace(m.Text) != ""
	hasFile := strings.TrimSpace(m.TextFile) != ""
	switch {
	case hasText && hasFile:
		return Manifest{}, invalid("set either text or text_file, not both", nil)
	case hasFile:
		if baseDir == "" && !filepath.IsAbs(m.TextFile) {
			return Manifest{}, invalid("text_file must be absolute in inline manifests", nil)
		}
		path := m.TextFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return Manifest{}, invalid(fmt.Sprintf("read text_file %s", path), err)
		}
		m.Text = string(content)
		m.TextFile = path
	}
	m.Text = strings.TrimSpace(m.Text)
	if m.Text == "" {
		return Manifest{}, invalid("story text is empty", nil)
	}
	if format == queue.FormatTranscript && !transcript.IsTimestamped(m.Text) {
		return Manifest{}, invalid("transcript has no timestamped lines; "+transcript.ExpectedFormat, nil)
	}
	return m, nil
}

// Story converts the manifest to a queued story record.
func (m Manifest) Story() queue.Story {
	return queue.Story{
		Title:          m.Title,
		SourceText:     m.Text,
		Format:         queue.Format(m.Format),
		SourceLanguage: m.SourceLanguage,
		TargetLanguage: m.TargetLanguage,
		TargetLocale:   m.TargetLocale,
		VoiceID:        m.Voice,
		Mood:           m.Mood,
		Status:         queue.StatusQueued,
	}
}

// Enqueue inserts the manifest's story.
func Enqueue(ctx context.Context, store *queue.Store, m Manifest) (*queue.Story, error) {
	return store.NewStory(ctx, m.Story())
}

func invalid(message string, err error) error {
	return services.Wrap(services.ErrValidation, "", "parse manifest", message, err)
}
