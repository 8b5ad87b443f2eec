// Package api defines wire-format types and converters for the daemon's HTTP
// API. It translates queue items and sync cycle results into transport DTOs
// that the CLI and other local clients render without importing internal
// types.
//
// # Key Types
//
// QueueItem: a pending action with its id, type, raw JSON payload and
// creation time.
//
// CycleResult: the outcome of one sync cycle with counts and timing.
//
// DaemonStatus: running state, connectivity, pending count, scheduler state,
// last cycle and preflight checks.
//
// Event: a message on the /api/events stream.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Payloads pass through as json.RawMessage to avoid double-encoding.
package api
