// Package progress records completion state for long-running bulk operations.
//
// Sessions live in the key/value store under "progress:<id>" with a TTL equal
// to the configured retention, so the status survives daemon restarts and is
// readable from the CLI while the daemon works. Updates are read-modify-write
// and serialized by the tracker's mutex; current and percentage never move
// backwards and a session accepts no changes after it reaches a terminal
// status.
package progress
