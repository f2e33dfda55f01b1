package transcript

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// DefaultWordsPerMinute approximates a relaxed narration pace.
const DefaultWordsPerMinute = 150

const minSentenceDuration = time.Second

// Synthesize builds segments for untimed prose: one segment per sentence, each
// lasting as long as it would take to narrate at wordsPerMinute.
func Synthesize(text string, wordsPerMinute int) []Segment {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	sentences := Sentences(text)
	segments := make([]Segment, 0, len(sentences))
	var cursor time.Duration
	for _, sentence := range sentences {
		d := SpeechDuration(sentence, wordsPerMinute)
		segments = append(segments, Segment{Start: cursor, End: cursor + d, Duration: d, Text: sentence})
		cursor += d
	}
	return segments
}

// SpeechDuration estimates narration time for text, rounded to the millisecond.
func SpeechDuration(text string, wordsPerMinute int) time.Duration {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	words := len(strings.Fields(text))
	ms := math.Round(float64(words) * 60000 / float64(wordsPerMinute))
	d := time.Duration(ms) * time.Millisecond
	if d < minSentenceDuration {
		return minSentenceDuration
	}
	return d
}

// Sentences splits prose on sentence-final punctuation and paragraph breaks.
func Sentences(text string) []string {
	runes := []rune(strings.ReplaceAll(text, "\r\n", "\n"))
	var out []string
	var current strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(current.String()), " "); s != "" {
			out = append(out, s)
		}
		current.Reset()
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		if !isSentenceFinal(r) {
			continue
		}
		for i+1 < len(runes) && (isSentenceFinal(runes[i+1]) || isClosing(runes[i+1])) {
			i++
			current.WriteRune(runes[i])
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) || isCJKFinal(r) {
			flush()
		}
	}
	flush()
	return out
}

// EndsSentence reports whether text ends with sentence-final punctuation,
// ignoring trailing quotes and brackets.
func EndsSentence(text string) bool {
	trimmed := strings.TrimRightFunc(strings.TrimSpace(text), isClosing)
	if trimmed == "" {
		return false
	}
	r := []rune(trimmed)
	return isSentenceFinal(r[len(r)-1])
}

func isSentenceFinal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func isCJKFinal(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’', '」', '』':
		return true
	}
	return false
}
