// Package daemon coordinates the long-running storyreel process.
//
// It wires configuration, queue storage, the workflow manager, the intake
// triggers and the maintenance schedule into a single lifecycle, with
// flock-based locking to prevent multiple instances. Intake triggers wake the
// workflow manager so queued stories start without waiting for the next poll.
//
// Keep orchestration logic here: pipeline steps live in their own packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
