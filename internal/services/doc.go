// Package services defines shared utilities consumed by the artifact
// executor, the queue manager, and the batch processor.
//
// Key responsibilities:
//   - Context helpers that stamp queue item IDs, resource IDs, batch IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the taxonomy surfaced to callers (locked, producer failure, write
//     failure, validation failure, not found).
//
// Use these helpers when wiring new operations so operational behaviour (error
// classification, observability, retries) stays uniform across the system.
package services
