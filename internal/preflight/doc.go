// Package preflight provides readiness checks for the filesystem paths and
// external services that cachegen depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check before
//     it begins ticking the queue.
//   - The CLI "cachegen doctor" command prints the same results as a table.
//
// Optional collaborators (Redis, ntfy) are only checked when configured.
package preflight
