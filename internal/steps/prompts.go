package steps

import (
	"fmt"
	"strings"

	"storyreel/internal/language"
)

const detectLanguagePrompt = `Identify the language of the user's text.
Respond with JSON only: {"language":"<ISO 639-1 code>"}.`

func translatePrompt(source, target string) string {
	return fmt.Sprintf(`You are a literary translator. Translate the user's text from %s to %s.
Preserve every sentence, paragraph break, name, and line of dialogue. Do not summarize,
omit, or add content. Respond with the translation only.`,
		describeLanguage(source), describeLanguage(target))
}

func adaptPrompt(target, locale string) string {
	audience := describeLanguage(target)
	if strings.TrimSpace(locale) != "" {
		audience = fmt.Sprintf("%s speakers in %s", audience, locale)
	}
	return fmt.Sprintf(`You are a cultural editor. Adapt the user's %s text for %s.
Replace idioms, units, currencies, foods, and references that would confuse this audience with
natural local equivalents. Keep the plot, every event, and the length of the text. Do not
summarize. Respond with the adapted text only.`, describeLanguage(target), audience)
}

func visualPrompt(mood string) string {
	var b strings.Builder
	b.WriteString(`You write prompts for an image generator. For each scene text, write one vivid,
concrete visual description (subjects, setting, lighting, composition) in English, under 60 words.
Never include text, captions, or watermarks in the image.`)
	if mood = strings.TrimSpace(mood); mood != "" {
		b.WriteString("\nOverall mood and style: ")
		b.WriteString(mood)
		b.WriteByte('.')
	}
	return b.String()
}

// batchSuffix tells the model the items are transcript segments that must stay aligned.
const batchSuffix = "\nEach item is one timed transcript segment; keep each result aligned with its own item."

func describeLanguage(code string) string {
	name := language.DisplayName(code)
	if name == "Unknown" {
		return "the source language"
	}
	return name
}
