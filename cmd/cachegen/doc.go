// Package main hosts the cachegen CLI entrypoint and command graph.
//
// Most commands open the same service graph the daemon uses (queue, lock
// store, artifact executor, batches, progress) and run the operation in
// process. The queue and lock stores are safe to share across processes, so
// a CLI invocation and a running daemon cooperate instead of conflicting.
// The daemon subcommands manage the background process and query it over its
// HTTP API.
package main
