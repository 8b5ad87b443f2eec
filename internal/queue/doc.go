// Package queue persists buffered user actions in SQLite until a sync cycle
// confirms their delivery.
//
// The Store assigns monotonically increasing identifiers and creation
// timestamps, returns items in insertion order, and exposes exactly one
// removal path: SnapshotAndClear, which reads and deletes the pending set in a
// single immediate transaction. Items a cycle could not deliver go back in
// through Restore with their original identifiers and timestamps, so they keep
// their place ahead of anything enqueued later.
//
// The package exposes no generic delete. Schema changes bump schemaVersion in
// schema.go.
package queue
