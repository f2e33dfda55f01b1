// Package notifications delivers story events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Per-event toggles
// in the notifications section suppress completion or failure messages.
package notifications
