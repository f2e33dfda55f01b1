package services

import "context"

// ctxKey is private so only this package can set the run annotations.
type ctxKey int

const (
	storyIDKey ctxKey = iota
	stageKey
	runIDKey
	requestIDKey
)

// withText stores a non-empty string; blank values leave ctx unchanged.
func withText(ctx context.Context, key ctxKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func text(ctx context.Context, key ctxKey) (string, bool) {
	value, _ := ctx.Value(key).(string)
	return value, value != ""
}

// WithStoryID tags ctx with the story being processed.
func WithStoryID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, storyIDKey, id)
}

// StoryIDFromContext returns the story tag, if any.
func StoryIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(storyIDKey).(int64)
	return id, ok
}

// WithStage tags ctx with the running step name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withText(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return text(ctx, stageKey) }

// WithRunID tags ctx with the claim's run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	return withText(ctx, runIDKey, id)
}

func RunIDFromContext(ctx context.Context) (string, bool) { return text(ctx, runIDKey) }

// WithRequestID tags ctx with a correlation id forwarded to provider requests.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withText(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return text(ctx, requestIDKey) }
