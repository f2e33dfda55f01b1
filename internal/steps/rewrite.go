package steps

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storyreel/internal/batcher"
	"storyreel/internal/chunker"
	"storyreel/internal/lengthguard"
	"storyreel/internal/logging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/services/llm"
	"storyreel/internal/stage"
	"storyreel/internal/textutil"
	"storyreel/internal/transcript"
)

// echoThreshold is the source/output similarity above which a translated chunk
// is reported as likely untranslated.
const echoThreshold = 0.9

type rewriteOptions struct {
	system    string
	checkEcho bool
}

// rewrite transforms story text in the story's format. Prose is chunked and each
// chunk runs through the length guard; transcripts are batch-rewritten by
// segment id and reassembled with their original timestamps.
func (b *base) rewrite(ctx context.Context, story *queue.Story, input string, opts rewriteOptions) (string, stage.Result, error) {
	if story.Format == queue.FormatTranscript {
		return b.rewriteTranscript(ctx, input, opts)
	}
	return b.rewriteProse(ctx, input, opts)
}

func (b *base) rewriteProse(ctx context.Context, input string, opts rewriteOptions) (string, stage.Result, error) {
	cfg := b.env.Config
	chunks, err := chunker.Split(input, cfg.Chunking.ModelTokenLimit, cfg.Chunking.ReservedTokens, b.env.Estimator)
	if err != nil {
		return "", stage.Result{}, err
	}
	if len(chunks) == 0 {
		return "", stage.Result{}, services.Wrap(services.ErrValidation, b.step, "chunk text", "no text to process", nil)
	}
	logger := b.log(ctx)
	guard := lengthguard.New(cfg.LengthGuard, logger)

	var result stage.Result
	outputs := make([]string, len(chunks))
	short := 0
	for _, chunk := range chunks {
		chunkLogger := logger.With(logging.Int(logging.FieldChunkIndex, chunk.Index+1))
		chunkGuard := *guard
		chunkGuard.Logger = chunkLogger
		res, err := chunkGuard.Transform(ctx, chunk.Text, func(ctx context.Context, attempt int) (string, error) {
			return call(ctx, b, "complete chunk", func(ctx context.Context) (string, error) {
				return b.env.LLM.CompleteText(ctx, llm.TextRequest{
					System:      opts.system,
					User:        chunk.Text,
					Temperature: cfg.LLM.Temperature,
				})
			})
		})
		if err != nil {
			return "", stage.Result{}, fmt.Errorf("chunk %d/%d: %w", chunk.Index+1, chunk.Total, err)
		}
		if !res.Accepted {
			short++
			result.Warnings = append(result.Warnings, fmt.Sprintf("chunk %d/%d kept at length ratio %.2f", chunk.Index+1, chunk.Total, res.Ratio))
		}
		if opts.checkEcho && textutil.Similarity(chunk.Text, res.Text) >= echoThreshold {
			chunkLogger.Warn("chunk output closely matches its input",
				logging.String(logging.FieldEventType, "rewrite_echo"),
				logging.String(logging.FieldErrorHint, "the provider may have returned the source text untranslated"),
			)
			result.Warnings = append(result.Warnings, fmt.Sprintf("chunk %d/%d looks untranslated", chunk.Index+1, chunk.Total))
		}
		outputs[chunk.Index] = res.Text
	}
	result.Summary = fmt.Sprintf("%d chunk(s), %d below length ratio", len(chunks), short)
	return chunker.JoinTexts(outputs), result, nil
}

func (b *base) rewriteTranscript(ctx context.Context, input string, opts rewriteOptions) (string, stage.Result, error) {
	cfg := b.env.Config
	segments, err := transcript.Parse(input, tailDuration(cfg.Segmentation.TailSeconds))
	if err != nil {
		return "", stage.Result{}, err
	}
	items := make([]batcher.Tagged, len(segments))
	for i, seg := range segments {
		items[i] = batcher.Tagged{ID: strconv.Itoa(i + 1), Text: seg.Text}
	}
	system := opts.system + batchSuffix
	outcome, err := batcher.Run(ctx, items, cfg.Chunking.BatchTokenBudget, b.env.Estimator, func(ctx context.Context, batch batcher.Batch[batcher.Tagged]) ([]batcher.Tagged, error) {
		b.log(ctx).Debug("submitting segment batch",
			logging.Int(logging.FieldBatchIndex, batch.Index+1),
			logging.Int("batch_items", len(batch.Items)),
		)
		return call(ctx, b, "complete batch", func(ctx context.Context) ([]batcher.Tagged, error) {
			return b.env.LLM.CompleteBatch(ctx, system, batch.Items)
		})
	})
	if err != nil {
		return "", stage.Result{}, err
	}

	replaced := make(map[int]string, len(outcome.Items))
	for id, text := range outcome.Texts() {
		n, err := strconv.Atoi(id)
		if err != nil || n < 1 || n > len(segments) {
			continue
		}
		replaced[n-1] = text
	}
	var result stage.Result
	for _, id := range outcome.Fallbacks {
		result.Warnings = append(result.Warnings, "segment "+id+" kept its original text")
	}
	if len(outcome.Fallbacks) > 0 {
		logging.WarnWithContext(b.log(ctx), "batch response omitted segments",
			"batch_fallback",
			logging.Int("fallback_count", len(outcome.Fallbacks)),
			logging.String("fallback_ids", strings.Join(outcome.Fallbacks, ",")),
			logging.String(logging.FieldImpact, "those segments keep their pre-batch text"),
		)
	}
	result.Summary = fmt.Sprintf("%d segment(s) in %d batch(es), %d fallback(s)", len(segments), outcome.Batches, len(outcome.Fallbacks))
	return transcript.Format(transcript.ReplaceTexts(segments, replaced)), result, nil
}

func tailDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
