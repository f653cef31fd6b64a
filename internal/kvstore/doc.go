// Package kvstore provides the persistent key/value store behind locks,
// progress sessions, batch jobs and artifact metadata.
//
// Two backends implement Store: a SQLite table (the default, sharing the
// daemon's data directory) and Redis. Both honour per-key TTLs and expose an
// atomic create-if-absent (SetNX) that treats expired keys as absent, which
// is the primitive the lock manager is built on.
package kvstore
