package tokens

import (
	"strings"
	"testing"

	"storyreel/internal/config"
)

func TestCharEstimator(t *testing.T) {
	est := CharEstimator{CharsPerToken: 4}
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 4000), 1000},
		{"привет", 2},
	}
	for _, tt := range tests {
		if got := est.Estimate(tt.text); got != tt.want {
			t.Fatalf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestCharEstimatorMonotone(t *testing.T) {
	est := CharEstimator{}
	text := ""
	prev := 0
	for i := 0; i < 200; i++ {
		text += "word "
		got := est.Estimate(text)
		if got < prev {
			t.Fatalf("estimate decreased at %d: %d < %d", i, got, prev)
		}
		prev = got
	}
}

func TestFromConfigDefaultsToCharEstimator(t *testing.T) {
	est, err := FromConfig(config.Chunking{CharsPerToken: 2})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if got := est.Estimate("abcd"); got != 2 {
		t.Fatalf("expected 2 tokens, got %d", got)
	}
}

func TestFromConfigMissingTokenizerFile(t *testing.T) {
	if _, err := FromConfig(config.Chunking{TokenizerFile: t.TempDir() + "/missing.json"}); err == nil {
		t.Fatal("expected error for missing tokenizer file")
	}
}
