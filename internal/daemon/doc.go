// Package daemon coordinates the long-running outbox process and its
// integration points.
//
// It wires configuration, queue storage, the connectivity monitor, the sync
// scheduler and dispatcher, the spool watcher and the HTTP API into a single
// lifecycle with flock-based locking to prevent multiple instances. The
// daemon exposes enqueue, queue inspection and on-demand sync, and streams
// queue, connectivity and cycle events to API clients.
//
// Keep orchestration logic here: queue semantics, delivery and scheduling
// live in their own packages while the daemon focuses on startup, shutdown
// and high level coordination.
package daemon
