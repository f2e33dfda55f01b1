package pipeline

import (
	"fmt"
	"strings"

	"storyreel/internal/queue"
	"storyreel/internal/stage"
)

// mediaKinds matches the prefixes the media steps write into Scene.ErrorMessage.
var mediaKinds = []string{"image", "audio"}

// sceneDegradations lists every failed scene medium recorded in the store.
// Steps skipped on a resumed run report nothing, so completion reads the
// scenes instead of trusting this run's step outcomes alone.
func sceneDegradations(scenes []queue.Scene) []stage.Degradation {
	var out []stage.Degradation
	for _, sc := range scenes {
		if sc.HasImage && sc.ImageStatus == queue.SceneFailed {
			out = append(out, stage.Degradation{SceneNumber: sc.Number, Media: "image", Error: mediaError(sc.ErrorMessage, "image")})
		}
		if sc.AudioStatus == queue.SceneFailed {
			out = append(out, stage.Degradation{SceneNumber: sc.Number, Media: "audio", Error: mediaError(sc.ErrorMessage, "audio")})
		}
	}
	return out
}

// mediaError extracts the "<media>: ..." part of a scene's combined error message.
func mediaError(message, media string) string {
	start := strings.Index(message, media+": ")
	if start < 0 {
		return ""
	}
	rest := message[start+len(media)+2:]
	end := len(rest)
	for _, other := range mediaKinds {
		if i := strings.Index(rest, "; "+other+": "); i >= 0 && i < end {
			end = i
		}
	}
	return strings.TrimSpace(rest[:end])
}

// earlierRunWarnings names degradations that this run's steps did not report themselves.
func earlierRunWarnings(current, reported []stage.Degradation) []string {
	seen := make(map[string]bool, len(reported))
	for _, d := range reported {
		seen[fmt.Sprintf("%d/%s", d.SceneNumber, d.Media)] = true
	}
	var warnings []string
	for _, d := range current {
		if !seen[fmt.Sprintf("%d/%s", d.SceneNumber, d.Media)] {
			warnings = append(warnings, fmt.Sprintf("scene %d %s failed in an earlier run", d.SceneNumber, d.Media))
		}
	}
	return warnings
}
