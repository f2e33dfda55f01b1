// Package batcher groups items into token-bounded batches for multi-item model
// calls and reconciles the tagged responses with their source items.
package batcher

import (
	"context"
	"fmt"
	"strings"

	"storyreel/internal/services"
	"storyreel/internal/tokens"
)

// Batch is one ordered group of items submitted in a single call.
type Batch[T any] struct {
	Index int
	Total int
	Items []T
}

// Split packs items greedily in order. A batch holds items while the sum of their
// estimates stays within maxTokensPerBatch; an item over the budget by itself
// occupies a batch alone.
func Split[T any](items []T, maxTokensPerBatch int, estimate func(T) int) []Batch[T] {
	if len(items) == 0 {
		return nil
	}
	var groups [][]T
	var current []T
	used := 0
	for _, item := range items {
		cost := estimate(item)
		if cost > maxTokensPerBatch {
			if len(current) > 0 {
				groups = append(groups, current)
				current, used = nil, 0
			}
			groups = append(groups, []T{item})
			continue
		}
		if len(current) > 0 && used+cost > maxTokensPerBatch {
			groups = append(groups, current)
			current, used = nil, 0
		}
		current = append(current, item)
		used += cost
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	batches := make([]Batch[T], len(groups))
	for i, g := range groups {
		batches[i] = Batch[T]{Index: i, Total: len(groups), Items: g}
	}
	return batches
}

// Tagged is a text item addressed by a stable id inside a batch call.
type Tagged struct {
	ID   string `json:"id" jsonschema_description:"Identifier copied from the input item"`
	Text string `json:"text" jsonschema_description:"Transformed text for this item"`
}

// BatchFunc performs one multi-item call and returns the tagged results it received.
type BatchFunc func(ctx context.Context, batch Batch[Tagged]) ([]Tagged, error)

// Outcome is the reconciled result of Run.
type Outcome struct {
	// Items holds one result per input item, in input order.
	Items []Tagged
	// Fallbacks lists ids whose response was missing and kept their source text.
	Fallbacks []string
	Batches   int
}

// Texts maps result ids to text.
func (o Outcome) Texts() map[string]string {
	out := make(map[string]string, len(o.Items))
	for _, item := range o.Items {
		out[item.ID] = item.Text
	}
	return out
}

// BatchError attributes a failed call to its batch.
type BatchError struct {
	Index int
	Total int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d/%d: %v", e.Index+1, e.Total, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Run splits items by the token budget, submits each batch through call, and matches
// responses back by id. Missing ids fall back to the item's own text; unknown ids are
// ignored. The first failed call aborts the run with a *BatchError.
func Run(ctx context.Context, items []Tagged, budget int, estimator tokens.Estimator, call BatchFunc) (Outcome, error) {
	if len(items) == 0 {
		return Outcome{}, nil
	}
	if budget <= 0 {
		return Outcome{}, services.Wrap(services.ErrValidation, "", "batch items", fmt.Sprintf("token budget must be positive, got %d", budget), nil)
	}
	if estimator == nil {
		estimator = tokens.CharEstimator{}
	}
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			return Outcome{}, services.Wrap(services.ErrValidation, "", "batch items", fmt.Sprintf("duplicate item id %q", item.ID), nil)
		}
		seen[item.ID] = struct{}{}
	}

	batches := Split(items, budget, func(item Tagged) int { return estimator.Estimate(item.Text) })
	outcome := Outcome{Items: make([]Tagged, 0, len(items)), Batches: len(batches)}
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		results, err := call(ctx, batch)
		if err != nil {
			return Outcome{}, &BatchError{Index: batch.Index, Total: batch.Total, Err: err}
		}
		byID := make(map[string]string, len(results))
		for _, r := range results {
			id := strings.TrimSpace(r.ID)
			if text := strings.TrimSpace(r.Text); text != "" {
				byID[id] = text
			}
		}
		for _, item := range batch.Items {
			if text, ok := byID[item.ID]; ok {
				outcome.Items = append(outcome.Items, Tagged{ID: item.ID, Text: text})
				continue
			}
			outcome.Items = append(outcome.Items, item)
			outcome.Fallbacks = append(outcome.Fallbacks, item.ID)
		}
	}
	return outcome, nil
}
