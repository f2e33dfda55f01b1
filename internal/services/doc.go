// Package services defines shared utilities consumed by the pipeline steps
// and the provider integrations.
//
// Key responsibilities:
//   - Context helpers that stamp story IDs, step names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures classify the
//     same way in logs, persisted error messages, and retry decisions.
//   - StatusError, the common shape of a failed upstream HTTP call.
//
// Provider clients live in the llm, imagegen, and narration subpackages.
package services
