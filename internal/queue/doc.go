// Package queue persists stories, their scenes, and per-step checkpoints in
// SQLite and exposes helpers for driving the story lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, heartbeat tracking, stale-run recovery, and progress updates. Scene
// rows are created once by segmentation and mutated in place; checkpoints are
// keyed by (story id, step name) so a re-entered run can skip finished steps.
//
// The database is treated as working storage for in-flight jobs rather than a
// long-term archive. Schema changes bump the version in schema.go; users clear
// the database to adopt the new schema.
package queue
