// Package api defines the wire-format types shared by the daemon's HTTP
// server and its client. It translates queue, workflow and lock models into
// transport-friendly DTOs so CLI and HTTP consumers render the same shapes
// without depending on storage types.
//
// # Key Types
//
// QueueItem: transport representation of a queue entry with RFC3339
// timestamps.
//
// WorkflowStatus: queue counts plus the most recent tick and error.
//
// DaemonStatus: daemon running state, file locations and workflow status.
//
// EnqueueRequest/BulkEnqueueRequest, StartBatchRequest: request bodies.
//
// ErrorResponse: error payload carrying the classification kind from
// services.Kind so clients can branch without parsing messages.
//
// # Design Notes
//
// DTOs use snake_case JSON tags to match the batch, progress and artifact
// payloads the server passes through unchanged. Timestamps use RFC3339 with
// milliseconds.
package api
