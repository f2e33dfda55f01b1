// Package lengthguard re-runs length-preserving transforms (translation,
// adaptation) whose output came back suspiciously short.
package lengthguard

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"storyreel/internal/config"
	"storyreel/internal/logging"
)

// TransformFunc performs one fresh attempt of the transform. attempt is 1-based.
type TransformFunc func(ctx context.Context, attempt int) (string, error)

// Result reports the chosen output.
type Result struct {
	Text     string
	Ratio    float64
	Attempts int
	// Accepted is false when no attempt reached MinRatio and the best output was kept.
	Accepted bool
}

// Guard enforces a minimum output/input rune ratio.
type Guard struct {
	MinRatio    float64
	MaxAttempts int
	Logger      *slog.Logger
}

// New builds a Guard from the [length_guard] section.
func New(cfg config.LengthGuard, logger *slog.Logger) *Guard {
	return &Guard{MinRatio: cfg.MinRatio, MaxAttempts: cfg.MaxAttempts, Logger: logger}
}

// Ratio returns runes(output)/runes(input).
func Ratio(input, output string) float64 {
	in := utf8.RuneCountInString(strings.TrimSpace(input))
	if in == 0 {
		return 1
	}
	return float64(utf8.RuneCountInString(strings.TrimSpace(output))) / float64(in)
}

// Transform calls fn until the output ratio reaches MinRatio or MaxAttempts is
// spent. Errors from fn propagate immediately.
func (g *Guard) Transform(ctx context.Context, input string, fn TransformFunc) (Result, error) {
	if strings.TrimSpace(input) == "" {
		return Result{Ratio: 1, Accepted: true}, nil
	}
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var best Result
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		output, err := fn(ctx, attempt)
		if err != nil {
			return Result{}, err
		}
		ratio := Ratio(input, output)
		if attempt == 1 || ratio > best.Ratio {
			best = Result{Text: output, Ratio: ratio}
		}
		if ratio >= g.MinRatio {
			return Result{Text: output, Ratio: ratio, Attempts: attempt, Accepted: true}, nil
		}
		if g.Logger != nil {
			g.Logger.Debug("transform output below length ratio",
				logging.Int(logging.FieldAttempt, attempt),
				logging.Float64("ratio", ratio),
				logging.Float64("min_ratio", g.MinRatio),
			)
		}
	}

	best.Attempts = attempts
	logging.WarnWithContext(g.Logger, "accepting short transform output",
		"length_guard_short",
		logging.Float64("ratio", best.Ratio),
		logging.Float64("min_ratio", g.MinRatio),
		logging.Int("attempts", attempts),
		logging.String(logging.FieldErrorHint, "review the output for dropped passages or raise length_guard.max_attempts"),
		logging.String(logging.FieldImpact, "text may be shorter than the source"),
	)
	return best, nil
}
