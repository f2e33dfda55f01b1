package testsupport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"storyreel/internal/batcher"
	"storyreel/internal/services/imagegen"
	"storyreel/internal/services/llm"
	"storyreel/internal/services/narration"
)

// FakeLLM is an in-memory llm.Provider. Without overrides it answers JSON
// requests with {"language":"en"}, echoes plain text requests, and echoes
// batch items unchanged.
type FakeLLM struct {
	Text  func(ctx context.Context, req llm.TextRequest) (string, error)
	Batch func(ctx context.Context, system string, items []batcher.Tagged) ([]batcher.Tagged, error)

	mu          sync.Mutex
	TextCalls   []llm.TextRequest
	BatchCalls  [][]batcher.Tagged
	BatchPrompt []string
}

// CompleteText implements llm.Provider.
func (f *FakeLLM) CompleteText(ctx context.Context, req llm.TextRequest) (string, error) {
	f.mu.Lock()
	f.TextCalls = append(f.TextCalls, req)
	f.mu.Unlock()
	if f.Text != nil {
		return f.Text(ctx, req)
	}
	if req.JSONMode {
		return `{"language":"en","ok":true}`, nil
	}
	return req.User, nil
}

// CompleteBatch implements llm.Provider.
func (f *FakeLLM) CompleteBatch(ctx context.Context, system string, items []batcher.Tagged) ([]batcher.Tagged, error) {
	f.mu.Lock()
	f.BatchCalls = append(f.BatchCalls, append([]batcher.Tagged(nil), items...))
	f.BatchPrompt = append(f.BatchPrompt, system)
	f.mu.Unlock()
	if f.Batch != nil {
		return f.Batch(ctx, system, items)
	}
	return append([]batcher.Tagged(nil), items...), nil
}

// TextCallCount returns the number of text completions issued.
func (f *FakeLLM) TextCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.TextCalls)
}

// BatchCallCount returns the number of batch completions issued.
func (f *FakeLLM) BatchCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.BatchCalls)
}

// FakeImages is an in-memory imagegen.Generator.
type FakeImages struct {
	// Fail returns an error for requests that should fail.
	Fail  func(req imagegen.Request) error
	calls atomic.Int64

	mu    sync.Mutex
	Seeds []int64
}

// GenerateImage implements imagegen.Generator.
func (f *FakeImages) GenerateImage(ctx context.Context, req imagegen.Request) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.Seeds = append(f.Seeds, req.Seed)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Fail != nil {
		if err := f.Fail(req); err != nil {
			return nil, err
		}
	}
	return []byte(fmt.Sprintf("image:%d:%s", req.Seed, req.Prompt)), nil
}

// Calls returns the number of GenerateImage invocations.
func (f *FakeImages) Calls() int { return int(f.calls.Load()) }

// FakeNarration is an in-memory narration.Generator.
type FakeNarration struct {
	Fail     func(req narration.Request) error
	Duration time.Duration
	calls    atomic.Int64

	mu     sync.Mutex
	Voices []string
}

// GenerateNarration implements narration.Generator.
func (f *FakeNarration) GenerateNarration(ctx context.Context, req narration.Request) (narration.Narration, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.Voices = append(f.Voices, req.VoiceID)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return narration.Narration{}, err
	}
	if f.Fail != nil {
		if err := f.Fail(req); err != nil {
			return narration.Narration{}, err
		}
	}
	duration := f.Duration
	if duration <= 0 {
		duration = 2 * time.Second
	}
	return narration.Narration{
		Audio:    []byte("audio:" + strings.TrimSpace(req.Text)),
		Duration: duration,
	}, nil
}

// Calls returns the number of GenerateNarration invocations.
func (f *FakeNarration) Calls() int { return int(f.calls.Load()) }
