// Package preflight provides readiness checks for the directories and
// external services storyreel depends on.
//
// These checks run in two contexts:
//   - The workflow manager calls RunAll before claiming a story. If any check
//     fails, the worker waits instead of failing a story that cannot succeed.
//   - The CLI "storyreel status" command adds the LLM ping (CheckLLMFromConfig)
//     on top of RunAll to display provider health.
//
// Each optional check is gated by its config toggle; disabled features are skipped.
package preflight
