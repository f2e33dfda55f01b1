// Package logging assembles structured slog loggers and formatting helpers used
// across storyreel.
//
// It owns the console/JSON handlers, rotates file output, and exposes
// context-aware helpers so step code automatically tags log lines with story
// IDs, step names, run IDs, and correlation IDs. A no-op logger is provided
// for tests and wiring code that cannot fail.
package logging
