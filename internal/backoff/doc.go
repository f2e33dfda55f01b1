// Package backoff retries fallible operations with exponential backoff and
// symmetric jitter.
//
// Every external call in the pipeline (LLM, image, narration) goes through
// Retry or Do with a Policy built from the [retry] config section. Errors are
// classified by Policy.IsRetryable (DefaultRetryable when unset): network
// failures, attempt timeouts, HTTP 408/429/5xx, and errors marked transient
// are retried; everything else propagates on the first failure. Exhausting
// MaxAttempts yields a *MaxRetriesExceededError wrapping the last cause.
package backoff
