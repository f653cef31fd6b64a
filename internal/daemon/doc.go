// Package daemon coordinates the long-running cachegen process.
//
// It wires the assembled services, the maintenance scheduler and the HTTP API
// into a single lifecycle with flock-based locking to prevent multiple
// instances. The daemon publishes queue start/completion notifications
// through the workflow manager and exposes operator actions (retry, clear,
// force lock release) over the API.
//
// Keep orchestration logic here: queue processing lives in workflow and the
// atomic operations live in artifact, while the daemon focuses on startup,
// shutdown, and high level coordination.
package daemon
