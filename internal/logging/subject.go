package logging

import "strings"

// FormatSubject builds the story/stage subject string used in console output.
func FormatSubject(storyID, stage string) string {
	storyID = strings.TrimSpace(storyID)
	stage = strings.TrimSpace(stage)
	switch {
	case storyID != "" && stage != "":
		return "Story #" + storyID + " (" + stage + ")"
	case storyID != "":
		return "Story #" + storyID
	case stage != "":
		return "(" + stage + ")"
	default:
		return ""
	}
}
