// Package apiclient talks to a running outbox daemon over its local HTTP API.
//
// The CLI uses it for status, queue inspection, enqueue, on-demand sync and
// the websocket event stream. Dial fails fast when no daemon is listening so
// callers can fall back to opening the queue database directly.
package apiclient
