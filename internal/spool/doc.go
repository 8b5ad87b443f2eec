// Package spool turns files dropped into a directory into queued actions.
//
// Each *.json file holds {"type": "...", "payload": ...}. A file is ingested
// once writes to it have been quiet for the debounce window, then deleted.
// Files that can never be enqueued move to the rejected/ subdirectory;
// files that hit a storage error stay put and are retried on the next event
// or restart.
package spool
