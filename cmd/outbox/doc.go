// Command outbox runs the offline action queue daemon and provides a CLI for
// enqueueing actions, inspecting the queue and triggering syncs.
//
// Queue commands talk to the daemon's local HTTP API when it is running and
// open the queue database directly otherwise, so producers can enqueue while
// the daemon is stopped.
package main
