// Package connectivity reports whether the sync endpoint is reachable and
// notifies subscribers when it becomes reachable again.
//
// Tracker holds the online flag and fans out transitions. Prober keeps a
// Tracker current by probing the endpoint on an interval, and LinkWatcher
// nudges the Prober when the kernel reports network interface changes so a
// reconnect is noticed before the next scheduled probe.
package connectivity
