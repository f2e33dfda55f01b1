// Package workflow runs queued stories in the daemon.
//
// The Manager starts workflow.max_concurrent_stories workers. Each worker
// reclaims stale work through heartbeats, runs preflight checks, claims the
// oldest queued story, and hands it to the pipeline orchestrator. Intake
// triggers call Wake so a new story is picked up without waiting for the next
// poll. The manager also aggregates queue stats and emits queue-level
// notifications when processing starts or drains.
//
// Each story run logs to its own file under the log directory; the daemon log
// records only the run boundaries and the path of that file.
package workflow
