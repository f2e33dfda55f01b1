package stage

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Step names in pipeline order.
const (
	DetectLanguage  = "detect-language"
	Translate       = "translate"
	Adapt           = "adapt"
	SegmentScenes   = "segment-scenes"
	GeneratePrompts = "generate-prompts"
	GenerateImages  = "generate-images"
	GenerateAudio   = "generate-audio"
	Package         = "package"
	Complete        = "complete"
)

var order = []string{
	DetectLanguage,
	Translate,
	Adapt,
	SegmentScenes,
	GeneratePrompts,
	GenerateImages,
	GenerateAudio,
	Package,
}

var markers = map[string]int{
	DetectLanguage:  5,
	Translate:       20,
	Adapt:           35,
	SegmentScenes:   45,
	GeneratePrompts: 55,
	GenerateImages:  75,
	GenerateAudio:   90,
	Package:         98,
	Complete:        100,
}

// Order returns the executable steps in pipeline order.
func Order() []string {
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// Marker returns the progress percentage reached when step completes.
func Marker(step string) int {
	return markers[step]
}

// Known reports whether step names a pipeline step.
func Known(step string) bool {
	_, ok := markers[step]
	return ok && step != Complete
}

// Label converts a step name into a display label ("generate-images" -> "Generate Images").
func Label(step string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(step))
	return cases.Title(language.English).String(strings.Join(words, " "))
}
