// Package config loads, normalizes, and validates outbox configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OUTBOX_SYNC_ENDPOINT. The Config type centralizes every knob the daemon and
// CLI need so the store location, sync endpoint, and connectivity probe are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
