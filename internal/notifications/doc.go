// Package notifications publishes sync health alerts via ntfy.
//
// NewService returns a no-op when no topic is configured, so callers never
// branch on whether alerts are enabled. SyncAlerts turns the stream of
// dispatch cycle results into at most one "failing" alert per outage and a
// matching "recovered" alert once a batch is delivered again.
package notifications
