// Package queue persists deferred artifact work in SQLite and exposes the
// transitions the queue manager drives.
//
// Items move pending -> processing -> completed|failed, or back from
// processing to pending while attempts remain. A partial unique index keeps
// at most one active (pending or processing) item per target and action, so
// deduplication on enqueue is atomic. Claiming, completing and failing are
// conditional updates: a transition only applies when the row is still in
// the expected state.
//
// The database holds in-flight work rather than an archive. Terminal rows are
// purged after the retention window. Schema changes bump schemaVersion in
// schema.go; operators clear the database to adopt the new schema.
package queue
