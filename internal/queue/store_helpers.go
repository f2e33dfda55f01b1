package queue

import (
	"database/sql"
	"errors"
	"time"
)

type rowScanner interface{ Scan(dest ...any) error }

const storyColumns = "id, title, source_text, format, source_language, target_language, target_locale, voice_id, mood, status, progress, current_step, error_message, detected_language, translated_text, adapted_text, archive_path, run_id, heartbeat_at, created_at, updated_at"

func scanStory(scanner rowScanner) (*Story, error) {
	var (
		id               int64
		title            string
		sourceText       string
		format           string
		sourceLanguage   sql.NullString
		targetLanguage   string
		targetLocale     sql.NullString
		voiceID          sql.NullString
		mood             sql.NullString
		statusStr        string
		progress         sql.NullInt64
		currentStep      sql.NullString
		errorMessage     sql.NullString
		detectedLanguage sql.NullString
		translatedText   sql.NullString
		adaptedText      sql.NullString
		archivePath      sql.NullString
		runID            sql.NullString
		heartbeatRaw     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&sourceText,
		&format,
		&sourceLanguage,
		&targetLanguage,
		&targetLocale,
		&voiceID,
		&mood,
		&statusStr,
		&progress,
		&currentStep,
		&errorMessage,
		&detectedLanguage,
		&translatedText,
		&adaptedText,
		&archivePath,
		&runID,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	story := &Story{
		ID:               id,
		Title:            title,
		SourceText:       sourceText,
		Format:           Format(format),
		SourceLanguage:   sourceLanguage.String,
		TargetLanguage:   targetLanguage,
		TargetLocale:     targetLocale.String,
		VoiceID:          voiceID.String,
		Mood:             mood.String,
		Status:           Status(statusStr),
		Progress:         int(progress.Int64),
		CurrentStep:      currentStep.String,
		ErrorMessage:     errorMessage.String,
		DetectedLanguage: detectedLanguage.String,
		TranslatedText:   translatedText.String,
		AdaptedText:      adaptedText.String,
		ArchivePath:      archivePath.String,
		RunID:            runID.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		story.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		story.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			story.HeartbeatAt = &heartbeat
		}
	}
	return story, nil
}

const (
	sceneColumns     = "story_id, number, text, adapted_text, has_image, image_index, early_window, estimated_ms, actual_ms, visual_prompt, image_path, audio_path, image_status, audio_status, status, error_message"
	sceneColumnCount = 16
)

func sceneArgs(scene Scene) []any {
	return []any{
		scene.StoryID,
		scene.Number,
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
	}
}

func scanScene(scanner rowScanner) (Scene, error) {
	var (
		scene        Scene
		adaptedText  sql.NullString
		hasImage     int
		earlyWindow  int
		estimatedMS  int64
		actualMS     int64
		visualPrompt sql.NullString
		imagePath    sql.NullString
		audioPath    sql.NullString
		imageStatus  string
		audioStatus  string
		status       string
		errorMessage sql.NullString
	)
	if err := scanner.Scan(
		&scene.StoryID,
		&scene.Number,
		&scene.Text,
		&adaptedText,
		&hasImage,
		&scene.ImageIndex,
		&earlyWindow,
		&estimatedMS,
		&actualMS,
		&visualPrompt,
		&imagePath,
		&audioPath,
		&imageStatus,
		&audioStatus,
		&status,
		&errorMessage,
	); err != nil {
		return Scene{}, err
	}
	scene.AdaptedText = adaptedText.String
	scene.HasImage = hasImage != 0
	scene.EarlyWindow = earlyWindow != 0
	scene.EstimatedDuration = time.Duration(estimatedMS) * time.Millisecond
	scene.ActualDuration = time.Duration(actualMS) * time.Millisecond
	scene.VisualPrompt = visualPrompt.String
	scene.ImagePath = imagePath.String
	scene.AudioPath = audioPath.String
	scene.ImageStatus = SceneStatus(imageStatus)
	scene.AudioStatus = SceneStatus(audioStatus)
	scene.Status = SceneStatus(status)
	scene.ErrorMessage = errorMessage.String
	return scene, nil
}

const checkpointColumns = "story_id, step, status, run_id, started_at, completed_at, error, summary"

func scanCheckpoint(scanner rowScanner) (Checkpoint, error) {
	var (
		cp           Checkpoint
		status       string
		runID        sql.NullString
		startedRaw   string
		completedRaw sql.NullString
		errText      sql.NullString
		summary      sql.NullString
	)
	if err := scanner.Scan(&cp.StoryID, &cp.Step, &status, &runID, &startedRaw, &completedRaw, &errText, &summary); err != nil {
		return Checkpoint{}, err
	}
	cp.Status = CheckpointStatus(status)
	cp.RunID = runID.String
	cp.Error = errText.String
	cp.Summary = summary.String
	if started, err := parseTimeString(startedRaw); err == nil {
		cp.StartedAt = started
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			cp.CompletedAt = &completed
		}
	}
	return cp, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timestampLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

// timestampLayout is fixed width so stored timestamps compare correctly as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
