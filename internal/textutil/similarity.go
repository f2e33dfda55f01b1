package textutil

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Fingerprint represents a term-frequency vector for text similarity comparison.
type Fingerprint struct {
	tokens map[string]float64
	norm   float64
}

// NewFingerprint creates a fingerprint from the provided text.
// Returns nil if the text produces no valid tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	var norm float64
	for _, count := range counts {
		norm += count * count
	}
	return &Fingerprint{tokens: counts, norm: math.Sqrt(norm)}
}

// TokenCount returns the number of distinct tokens.
func (f *Fingerprint) TokenCount() int {
	if f == nil {
		return 0
	}
	return len(f.tokens)
}

// Tokenize splits text into lowercase tokens, filtering short tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, token := range fields {
		if utf8.RuneCountInString(token) < 3 {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// CosineSimilarity returns the cosine of the angle between two fingerprints,
// 0 when either is nil.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	small, large := a, b
	if len(small.tokens) > len(large.tokens) {
		small, large = large, small
	}
	var dot float64
	for token, weight := range small.tokens {
		dot += weight * large.tokens[token]
	}
	return dot / (a.norm * b.norm)
}

// Similarity fingerprints both texts and compares them.
func Similarity(a, b string) float64 {
	return CosineSimilarity(NewFingerprint(a), NewFingerprint(b))
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "with": {}, "was": {}, "were": {},
	"his": {}, "her": {}, "she": {}, "they": {}, "them": {}, "this": {}, "from": {},
	"had": {}, "have": {}, "but": {}, "not": {}, "are": {}, "you": {}, "all": {},
	"into": {}, "then": {}, "there": {}, "their": {}, "what": {}, "when": {},
	"would": {}, "could": {}, "been": {}, "said": {}, "which": {}, "about": {},
}

// Keywords returns up to n of the most frequent non-stopword tokens, ties
// broken by first appearance.
func Keywords(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	tokens := Tokenize(text)
	counts := make(map[string]int, len(tokens))
	first := make(map[string]int, len(tokens))
	for i, token := range tokens {
		if _, skip := stopWords[token]; skip {
			continue
		}
		if _, seen := first[token]; !seen {
			first[token] = i
		}
		counts[token]++
	}
	words := make([]string, 0, len(counts))
	for word := range counts {
		words = append(words, word)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return first[words[i]] < first[words[j]]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}
