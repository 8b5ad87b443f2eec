package testsupport

import (
	"context"
	"encoding/json"
	"testing"

	"outbox/internal/config"
	"outbox/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustEnqueue appends an item for tests, marshalling payload to JSON.
func MustEnqueue(t testing.TB, store *queue.Store, itemType string, payload any) *queue.Item {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	item, err := store.Enqueue(context.Background(), itemType, raw)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return item
}

// PendingTypes lists the types of all queued items in order.
func PendingTypes(t testing.TB, store *queue.Store) []string {
	t.Helper()

	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("store.List: %v", err)
	}
	types := make([]string, 0, len(items))
	for _, item := range items {
		types = append(types, item.Type)
	}
	return types
}
