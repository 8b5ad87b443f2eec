// Package scheduler decides when sync cycles run: once at start, on a fixed
// interval, on every reconnect, and on demand.
//
// Start returns a Handle that owns the schedule. Stop is one-way and
// idempotent; once it returns no new attempt starts, while attempts already
// running finish on a context detached from teardown.
package scheduler
