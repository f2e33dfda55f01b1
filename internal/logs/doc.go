// Package logs locates per-story run logs and tails them.
//
// The workflow manager writes one JSON log per story run under
// <logging.dir>/stories; `storyreel logs` reads the newest one back,
// optionally following it while the daemon appends.
package logs
