// Package artifact implements transactional generate and delete operations
// for cached artifacts.
//
// Every mutation of an artifact file or its tracked metadata goes through the
// Executor, always under the resource's lock. Before mutating anything the
// executor snapshots the tracked metadata and copies any existing artifact to
// a backup next to it; new content is produced through the retry executor,
// written to a temp file, synced, checked and renamed into place, and the
// metadata is updated last. Any failure restores the backup and the prior
// metadata values so the resource is left exactly as it was found.
//
// Bulk applies an operation to many resources independently, with an
// optional caller abort policy and an all-or-nothing rollback mode.
// Subscribers observe generated, deleted, failed, rolled_back and skipped
// events; metrics and notifications hook in this way.
package artifact
