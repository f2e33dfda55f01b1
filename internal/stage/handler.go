package stage

import (
	"context"
	"log/slog"

	"storyreel/internal/queue"
)

// Handler describes the contract the step runner needs from each pipeline step.
// Prepare validates inputs and may fail fast before any external call;
// Execute does the work and mutates the story in place.
type Handler interface {
	Prepare(context.Context, *queue.Story) error
	Execute(context.Context, *queue.Story) (Result, error)
	HealthCheck(context.Context) Health
}

// LoggerAware handlers receive the step-scoped logger before they run.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Result summarizes a completed step.
type Result struct {
	Summary  string
	Warnings []string
	Degraded []Degradation
}

// Degradation records a scene whose media could not be produced.
type Degradation struct {
	SceneNumber int
	Media       string
	Error       string
}

// Health reports whether a step has the providers and settings it needs.
// Detail explains a step that is not Ready.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy marks step ready.
func Healthy(step string) Health { return Health{Name: step, Ready: true} }

// Unhealthy marks step not ready, with a reason.
func Unhealthy(step, reason string) Health { return Health{Name: step, Detail: reason} }
