// Package daemonctl starts and stops a background outbox daemon from the CLI
// using the data directory's lock and pid files.
package daemonctl
