// Package logging assembles structured slog loggers and formatting helpers used
// across outbox services.
//
// It owns the configurable console/JSON handlers, centralizes level, output and
// rotation plumbing, and exposes context-aware helpers so sync cycles can tag
// log lines with cycle IDs and triggers. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup to ensure new
// components emit data with the same shape and routing guarantees as the rest
// of the system.
package logging
