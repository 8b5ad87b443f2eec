// Package preflight provides readiness checks for the filesystem paths and
// the sync endpoint that outbox depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs failures; it still starts,
//     since an unreachable endpoint only means items wait in the queue.
//   - The CLI "outbox status" command reports the same results.
//
// Each check is gated by its config section: disabled features are skipped.
package preflight
