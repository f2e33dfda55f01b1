// Package chunker splits long text into paragraph-aligned pieces that fit a
// model's token budget.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"storyreel/internal/services"
	"storyreel/internal/tokens"
)

// Separator joins paragraphs inside a chunk and chunks inside a document.
const Separator = "\n\n"

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n\s*`)

// Chunk is one paragraph-aligned slice of a document.
type Chunk struct {
	Index int
	Total int
	Text  string
}

// Paragraphs splits text on blank lines, trimming each paragraph and dropping empties.
func Paragraphs(text string) []string {
	normalized := strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n")
	if normalized == "" {
		return nil
	}
	raw := paragraphBreak.Split(normalized, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Split packs paragraphs into chunks while the estimated size of the running chunk
// stays within modelTokenLimit-reservedTokens. A paragraph that alone exceeds the
// budget is emitted as its own chunk.
func Split(text string, modelTokenLimit, reservedTokens int, estimator tokens.Estimator) ([]Chunk, error) {
	budget := modelTokenLimit - reservedTokens
	if budget <= 0 {
		return nil, services.Wrap(
			services.ErrValidation,
			"",
			"chunk text",
			fmt.Sprintf("token budget must be positive (limit %d, reserved %d)", modelTokenLimit, reservedTokens),
			nil,
		)
	}
	if estimator == nil {
		estimator = tokens.CharEstimator{}
	}

	paragraphs := Paragraphs(text)
	if len(paragraphs) == 0 {
		return nil, nil
	}

	var texts []string
	current := ""
	for _, paragraph := range paragraphs {
		if current == "" {
			current = paragraph
			continue
		}
		candidate := current + Separator + paragraph
		if estimator.Estimate(candidate) <= budget {
			current = candidate
			continue
		}
		texts = append(texts, current)
		current = paragraph
	}
	texts = append(texts, current)

	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{Index: i, Total: len(texts), Text: t}
	}
	return chunks, nil
}

// Join reassembles chunk texts in order.
func Join(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, Separator)
}

// JoinTexts reassembles transformed chunk texts in order.
func JoinTexts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, strings.TrimSpace(t))
	}
	return strings.Join(parts, Separator)
}
