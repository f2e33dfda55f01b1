package intake

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"storyreel/internal/queue"
	"storyreel/internal/services"
)

func TestParseManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "story.txt"), []byte("  Once upon a time.\n"), 0o644); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "transcript.txt"), []byte("[00:01] Once upon a time.\n[00:04] The end.\n"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	tests := []struct {
		name    string
		yaml    string
		baseDir string
		wantErr bool
		check   func(t *testing.T, m Manifest)
	}{
		{
			name: "inline text",
			yaml: "title: The Lighthouse\ntarget_language: French\ntarget_locale: fr-ca\nvoice: narrator-1\ntext: |\n  The keeper lit the lamp.\n",
			check: func(t *testing.T, m Manifest) {
				if m.TargetLanguage != "fr" || m.TargetLocale != "fr-CA" {
					t.Fatalf("unexpected language %q locale %q", m.TargetLanguage, m.TargetLocale)
				}
				if m.Format != string(queue.FormatProse) || m.Text != "The keeper lit the lamp." {
					t.Fatalf("unexpected manifest %+v", m)
				}
			},
		},
		{
			name:    "relative text file",
			yaml:    "title: Tale\ntarget_language: es\nformat: transcript\ntext_file: transcript.txt\n",
			baseDir: dir,
			check: func(t *testing.T, m Manifest) {
				if m.Text != "[00:01] Once upon a time.\n[00:04] The end." || m.Format != string(queue.FormatTranscript) {
					t.Fatalf("unexpected manifest %+v", m)
				}
				if m.TextFile != filepath.Join(dir, "transcript.txt") {
					t.Fatalf("text file not resolved: %q", m.TextFile)
				}
			},
		},
		{
			name: "json is accepted",
			yaml: `{"title":"Tale","target_language":"de","source_language":"eng","text":"Hello."}`,
			check: func(t *testing.T, m Manifest) {
				if m.SourceLanguage != "en" || m.TargetLanguage != "de" {
					t.Fatalf("unexpected languages %+v", m)
				}
			},
		},
		{name: "empty document", yaml: "", wantErr: true},
		{name: "missing title", yaml: "target_language: es\ntext: hi\n", wantErr: true},
		{name: "missing target", yaml: "title: T\ntext: hi\n", wantErr: true},
		{name: "unknown target", yaml: "title: T\ntarget_language: zz-not-a-language\ntext: hi\n", wantErr: true},
		{name: "unknown field", yaml: "title: T\ntarget_language: es\ntext: hi\nspeed: 2\n", wantErr: true},
		{name: "unknown format", yaml: "title: T\ntarget_language: es\nformat: poem\ntext: hi\n", wantErr: true},
		{name: "text and file", yaml: "title: T\ntarget_language: es\ntext: hi\ntext_file: story.txt\n", baseDir: dir, wantErr: true},
		{name: "relative file inline", yaml: "title: T\ntarget_language: es\ntext_file: story.txt\n", wantErr: true},
		{name: "transcript without timestamps", yaml: "title: T\ntarget_language: es\nformat: transcript\ntext_file: story.txt\n", baseDir: dir, wantErr: true},
		{name: "blank text", yaml: "title: T\ntarget_language: es\ntext: '   '\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.yaml), tt.baseDir)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", m)
				}
				if !errors.Is(err, services.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseManifest: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestManifestStory(t *testing.T) {
	m := Manifest{Title: "T", Format: "prose", TargetLanguage: "es", Voice: "v", Mood: "calm", Text: "x"}
	story := m.Story()
	if story.Status != queue.StatusQueued || story.VoiceID != "v" || story.Mood != "calm" || story.SourceText != "x" {
		t.Fatalf("unexpected story %+v", story)
	}
}
