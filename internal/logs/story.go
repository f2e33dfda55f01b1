package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"storyreel/internal/textutil"
)

const storyDirName = "stories"

// StoryDir returns the directory holding story run logs.
func StoryDir(logDir string) string {
	return filepath.Join(logDir, storyDirName)
}

// StoryFileName names the log for one run of a story started at started.
func StoryFileName(storyID int64, title string, started time.Time) string {
	return fmt.Sprintf("%s-story-%d-%s.log",
		started.UTC().Format("20060102T150405"), storyID, textutil.Slug(title))
}

// StoryFiles lists the run logs of a story, oldest first. A missing
// directory yields no files.
func StoryFiles(logDir string, storyID int64) ([]string, error) {
	entries, err := os.ReadDir(StoryDir(logDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read story log directory: %w", err)
	}
	marker := fmt.Sprintf("-story-%d-", storyID)
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		if strings.Contains(entry.Name(), marker) {
			files = append(files, filepath.Join(StoryDir(logDir), entry.Name()))
		}
	}
	// Timestamp prefixes sort chronologically.
	sort.Strings(files)
	return files, nil
}

// LatestStoryFile returns the newest run log for a story, or "" when the story
// has never run.
func LatestStoryFile(logDir string, storyID int64) (string, error) {
	files, err := StoryFiles(logDir, storyID)
	if err != nil || len(files) == 0 {
		return "", err
	}
	return files[len(files)-1], nil
}
