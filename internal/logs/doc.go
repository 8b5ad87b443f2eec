// Package logs reads and follows the daemon's log file for the `outbox logs`
// command. Following survives lumberjack rotation by watching the log
// directory and restarting from the top of a replaced file.
package logs
