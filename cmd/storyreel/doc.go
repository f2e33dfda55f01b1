// Command storyreel is the operator CLI for the story-to-video pipeline.
//
// It queues story manifests, runs a single story in the foreground, inspects
// and repairs the queue, and reports readiness. Commands open the sqlite queue
// directly; the daemon (storyreeld) picks up whatever they enqueue.
package main
