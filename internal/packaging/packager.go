package packaging

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"storyreel/internal/config"
	"storyreel/internal/language"
	"storyreel/internal/logging"
	"storyreel/internal/placeholder"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/services/imagegen"
	"storyreel/internal/textutil"
)

const (
	manifestName      = "manifest.json"
	storyTextName     = "story.txt"
	thumbnailName     = "thumbnail.jpg"
	missingMarkerName = "MISSING.txt"

	placeholderLongEdge  = 1280
	defaultThumbnailEdge = 480
)

// Metadata is run context recorded in the manifest.
type Metadata struct {
	RunID       string
	GeneratedAt time.Time
	Warnings    []string
}

// Archive describes a written package.
type Archive struct {
	Path         string
	Size         int64
	Scenes       int
	Images       int
	Placeholders int
	MissingAudio int
}

// Packager writes story archives into the output directory.
type Packager struct {
	OutputDir     string
	AspectRatio   string
	ThumbnailEdge int
	Logger        *slog.Logger
}

// New builds a packager from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Packager {
	return &Packager{
		OutputDir:     cfg.Paths.OutputDir,
		AspectRatio:   cfg.Images.AspectRatio,
		ThumbnailEdge: defaultThumbnailEdge,
		Logger:        logger,
	}
}

type manifest struct {
	StoryID        int64           `json:"story_id"`
	Title          string          `json:"title"`
	SourceLanguage string          `json:"source_language"`
	TargetLanguage string          `json:"target_language"`
	LanguageName   string          `json:"language_name"`
	TargetLocale   string          `json:"target_locale,omitempty"`
	VoiceID        string          `json:"voice_id,omitempty"`
	RunID          string          `json:"run_id,omitempty"`
	GeneratedAt    time.Time       `json:"generated_at"`
	AspectRatio    string          `json:"aspect_ratio"`
	TotalSeconds   float64         `json:"total_seconds"`
	Thumbnail      string          `json:"thumbnail,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Scenes         []manifestScene `json:"scenes"`
}

type manifestScene struct {
	Number           int     `json:"number"`
	DurationSeconds  float64 `json:"duration_seconds"`
	EarlyWindow      bool    `json:"early_window"`
	ImageIndex       int     `json:"image_index,omitempty"`
	VisualPrompt     string  `json:"visual_prompt,omitempty"`
	Text             string  `json:"text"`
	Image            string  `json:"image,omitempty"`
	ImagePlaceholder bool    `json:"image_placeholder,omitempty"`
	Audio            string  `json:"audio,omitempty"`
	AudioMissing     bool    `json:"audio_missing,omitempty"`
	Status           string  `json:"status"`
}

// ArchiveName returns the file name used for a story archive.
func ArchiveName(story *queue.Story) string {
	return fmt.Sprintf("story-%d-%s-%s.zip",
		story.ID,
		textutil.Slug(story.Title),
		textutil.Slug(story.TargetLanguage),
	)
}

// Package writes the archive for story. It fails only on I/O errors or
// cancellation; missing scene media is substituted.
func (p *Packager) Package(ctx context.Context, story *queue.Story, scenes []queue.Scene, meta Metadata) (Archive, error) {
	if story == nil {
		return Archive{}, services.Wrap(services.ErrValidation, "package", "validate inputs", "story is required", nil)
	}
	if len(scenes) == 0 {
		return Archive{}, services.Wrap(services.ErrValidation, "package", "validate inputs", "story has no scenes", nil)
	}
	if strings.TrimSpace(p.OutputDir) == "" {
		return Archive{}, services.Wrap(services.ErrConfiguration, "package", "resolve output dir", "output directory not configured", nil)
	}
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return Archive{}, services.Wrap(services.ErrConfiguration, "package", "create output dir", "cannot create output directory", err)
	}
	logger := p.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	finalPath := filepath.Join(p.OutputDir, ArchiveName(story))
	tmp, err := os.CreateTemp(p.OutputDir, ".package-*.zip")
	if err != nil {
		return Archive{}, fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	archive := Archive{Path: finalPath, Scenes: len(scenes)}
	zw := zip.NewWriter(tmp)
	m, err := p.writeEntries(ctx, zw, story, scenes, meta, &archive, logger)
	if err != nil {
		_ = zw.Close()
		_ = tmp.Close()
		return Archive{}, err
	}
	if err := writeJSON(zw, manifestName, m); err != nil {
		_ = zw.Close()
		_ = tmp.Close()
		return Archive{}, err
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return Archive{}, fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Archive{}, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Archive{}, fmt.Errorf("move archive into place: %w", err)
	}
	tmpPath = ""
	if info, err := os.Stat(finalPath); err == nil {
		archive.Size = info.Size()
	}

	logger.Info("archive written",
		logging.String(logging.FieldEventType, "package_written"),
		logging.String("archive_path", finalPath),
		logging.Int64("archive_bytes", archive.Size),
		logging.Int("scene_count", archive.Scenes),
		logging.Int("placeholder_images", archive.Placeholders),
		logging.Int("missing_audio", archive.MissingAudio),
	)
	return archive, nil
}

func (p *Packager) writeEntries(ctx context.Context, zw *zip.Writer, story *queue.Story, scenes []queue.Scene, meta Metadata, archive *Archive, logger *slog.Logger) (manifest, error) {
	generated := meta.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	aspect := strings.TrimSpace(p.AspectRatio)
	if aspect == "" {
		aspect = "16:9"
	}
	m := manifest{
		StoryID:        story.ID,
		Title:          story.Title,
		SourceLanguage: story.EffectiveSourceLanguage(),
		TargetLanguage: story.TargetLanguage,
		LanguageName:   language.DisplayName(story.TargetLanguage),
		TargetLocale:   story.TargetLocale,
		VoiceID:        story.VoiceID,
		RunID:          meta.RunID,
		GeneratedAt:    generated,
		AspectRatio:    aspect,
		Warnings:       meta.Warnings,
		Scenes:         make([]manifestScene, 0, len(scenes)),
	}

	text := strings.TrimSpace(story.AdaptedText)
	if text == "" {
		text = strings.TrimSpace(story.SourceText)
	}
	if err := writeBytes(zw, storyTextName, []byte(text+"\n")); err != nil {
		return manifest{}, err
	}

	var thumbSource image.Image
	for _, scene := range scenes {
		if err := ctx.Err(); err != nil {
			return manifest{}, err
		}
		dir := fmt.Sprintf("scenes/%03d", scene.Number)
		duration := scene.ActualDuration
		if duration <= 0 {
			duration = scene.EstimatedDuration
		}
		entry := manifestScene{
			Number:          scene.Number,
			DurationSeconds: duration.Seconds(),
			EarlyWindow:     scene.EarlyWindow,
			VisualPrompt:    scene.VisualPrompt,
			Text:            dir + "/text.txt",
			Status:          string(scene.Status),
		}
		m.TotalSeconds += duration.Seconds()
		if err := writeBytes(zw, entry.Text, []byte(scene.NarrationText()+"\n")); err != nil {
			return manifest{}, err
		}

		if scene.HasImage {
			entry.ImageIndex = scene.ImageIndex
			data, ext, err := readMedia(scene.ImagePath)
			if err != nil {
				logger.Warn("scene image unavailable; rendering placeholder",
					logging.Int(logging.FieldSceneNumber, scene.Number),
					logging.Error(err),
				)
				w, h := placeholder.Size(aspect, placeholderLongEdge)
				data, err = placeholder.RenderPNG(placeholder.Card{
					Width:    w,
					Height:   h,
					Title:    story.Title,
					Subtitle: fmt.Sprintf("Scene %d", scene.Number),
					Seed:     imagegen.SeedForImage(scene.ImageIndex),
				})
				if err != nil {
					return manifest{}, err
				}
				ext = ".png"
				entry.ImagePlaceholder = true
				archive.Placeholders++
			} else {
				archive.Images++
			}
			entry.Image = dir + "/image" + ext
			if err := writeBytes(zw, entry.Image, data); err != nil {
				return manifest{}, err
			}
			if thumbSource == nil {
				if img, err := imaging.Decode(bytes.NewReader(data)); err == nil {
					thumbSource = img
				}
			}
		}

		audio, ext, err := readMedia(scene.AudioPath)
		if err != nil {
			entry.AudioMissing = true
			archive.MissingAudio++
			reason := strings.TrimSpace(scene.ErrorMessage)
			if reason == "" {
				reason = err.Error()
			}
			marker := fmt.Sprintf("Narration unavailable for scene %d.\n%s\n", scene.Number, reason)
			if err := writeBytes(zw, dir+"/"+missingMarkerName, []byte(marker)); err != nil {
				return manifest{}, err
			}
		} else {
			entry.Audio = dir + "/audio" + ext
			if err := writeBytes(zw, entry.Audio, audio); err != nil {
				return manifest{}, err
			}
		}
		m.Scenes = append(m.Scenes, entry)
	}

	if thumbSource != nil {
		edge := p.ThumbnailEdge
		if edge <= 0 {
			edge = defaultThumbnailEdge
		}
		var buf bytes.Buffer
		thumb := imaging.Fit(thumbSource, edge, edge, imaging.Lanczos)
		if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
			logger.Warn("thumbnail encode failed", logging.Error(err))
		} else if err := writeBytes(zw, thumbnailName, buf.Bytes()); err != nil {
			return manifest{}, err
		} else {
			m.Thumbnail = thumbnailName
		}
	}
	return m, nil
}

var errNoMedia = errors.New("no media recorded")

func readMedia(path string) ([]byte, string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, "", errNoMedia
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("media file missing: %s", path)
		}
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("media file empty: %s", path)
	}
	return data, strings.ToLower(filepath.Ext(path)), nil
}

func writeBytes(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return writeBytes(zw, name, data)
}
