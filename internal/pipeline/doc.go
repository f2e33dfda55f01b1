// Package pipeline drives one story through the fixed step order.
//
// The Orchestrator claims a story, builds providers for the run, and hands each
// step to stageexec.Run so completed checkpoints are skipped on re-entry. A step
// failure marks the story failed and stops the run; a canceled context returns
// the story to the queue with its checkpoints intact. Runs are single-goroutine:
// steps of one story never overlap.
package pipeline
