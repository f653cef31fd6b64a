// Package notifications delivers operator-facing events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Each event family
// (item failures, rollbacks, batch completion, operator/queue events) can be
// switched off independently in the [notifications] section.
//
// ArtifactSubscriber bridges executor events into the same Service so
// rollbacks surface without the executor knowing about ntfy.
package notifications
