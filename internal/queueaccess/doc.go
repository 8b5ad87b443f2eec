// Package queueaccess gives the CLI one queue interface whether or not the
// daemon is running. Requests go through the daemon API when it answers and
// fall back to opening the SQLite queue directly otherwise.
package queueaccess
