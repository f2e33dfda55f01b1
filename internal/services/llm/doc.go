// Package llm provides the text-completion providers used by the pipeline.
//
// Two variants implement Provider:
//   - Client talks to an OpenRouter-compatible chat completions endpoint over
//     plain HTTP and requests json_object output for batch calls.
//   - OpenAIClient uses the official openai-go SDK with a strict JSON schema
//     response format generated from BatchResponse.
//
// # Entry Points
//
// Provider.CompleteText: single-turn completion (optionally JSON mode).
// Provider.CompleteBatch: multi-item call; items are tagged by id and the
// response is decoded back into tagged items.
// HealthCheck: verify the API key and model respond with JSON.
//
// # Retry Behaviour
//
// Clients make exactly one attempt per call. Non-2xx responses surface as
// *services.StatusError (with Retry-After when present) and empty completions
// are marked transient, so callers wrap calls in backoff.Retry to get retries.
//
// # JSON Decoding
//
// DecodeJSON tolerates code fences and prose around the payload, which some
// models emit even in JSON mode.
package llm
