// Package tokens estimates how many model tokens a piece of text will consume.
package tokens

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"storyreel/internal/config"
)

// DefaultCharsPerToken approximates English BPE tokenizers.
const DefaultCharsPerToken = 4.0

// Estimator returns an upper-bound-ish token count for text. Implementations must be
// deterministic and monotone: appending text never lowers the estimate.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator estimates tokens from the rune count.
type CharEstimator struct {
	CharsPerToken float64
}

// Estimate implements Estimator.
func (e CharEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / ratio))
}

// TokenizerEstimator counts ids produced by a HuggingFace tokenizer.json.
type TokenizerEstimator struct {
	mu       sync.Mutex
	tok      *tokenizer.Tokenizer
	fallback CharEstimator
}

// LoadTokenizer reads a tokenizer.json file.
func LoadTokenizer(path string) (*TokenizerEstimator, error) {
	tok, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %q: %w", path, err)
	}
	return &TokenizerEstimator{tok: tok, fallback: CharEstimator{CharsPerToken: DefaultCharsPerToken}}, nil
}

// Estimate implements Estimator. Texts the tokenizer rejects fall back to the
// character heuristic.
func (e *TokenizerEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	e.mu.Lock()
	encoding, err := e.tok.EncodeSingle(text)
	e.mu.Unlock()
	if err != nil {
		return e.fallback.Estimate(text)
	}
	return len(encoding.GetIds())
}

// FromConfig selects the tokenizer-backed estimator when chunking.tokenizer_file is
// set and the character heuristic otherwise.
func FromConfig(cfg config.Chunking) (Estimator, error) {
	if path := strings.TrimSpace(cfg.TokenizerFile); path != "" {
		return LoadTokenizer(path)
	}
	return CharEstimator{CharsPerToken: cfg.CharsPerToken}, nil
}
