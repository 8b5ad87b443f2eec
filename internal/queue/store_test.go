package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"outbox/internal/queue"
	"outbox/internal/testsupport"
)

func TestEnqueueAssignsIDsAndTimestamps(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 123_000_000, time.UTC)
	store.WithClock(func() time.Time { return fixed })

	ctx := context.Background()
	first, err := store.Enqueue(ctx, "lead", json.RawMessage(`{"name":"A"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := store.Enqueue(ctx, "note", json.RawMessage(`{"text":"B"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("expected increasing ids, got %d then %d", first.ID, second.ID)
	}
	if !first.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected createdAt: %s", first.CreatedAt)
	}

	fetched, err := store.GetByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.Type != "note" || string(fetched.Payload) != `{"text":"B"}` {
		t.Fatalf("unexpected fetched item: %#v", fetched)
	}
	if !fetched.CreatedAt.Equal(fixed) {
		t.Fatalf("createdAt did not round-trip: %s", fetched.CreatedAt)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 pending, got %d", count)
	}
}

func TestEnqueueValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	tests := []struct {
		name     string
		itemType string
		payload  string
		wantErr  bool
		want     string
	}{
		{name: "empty type", itemType: "  ", payload: `{}`, wantErr: true},
		{name: "invalid json", itemType: "lead", payload: `{"name":`, wantErr: true},
		{name: "empty payload becomes null", itemType: "ping", payload: ``, want: `null`},
		{name: "type is trimmed", itemType: " note ", payload: ` [1,2] `, want: `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := store.Enqueue(ctx, tt.itemType, json.RawMessage(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, queue.ErrInvalidItem) {
					t.Fatalf("expected ErrInvalidItem, got %v", err)
				}
				if queue.ErrorKind(err) != "validation" {
					t.Fatalf("expected validation kind, got %q", queue.ErrorKind(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}
			if string(item.Payload) != tt.want {
				t.Fatalf("payload = %s, want %s", item.Payload, tt.want)
			}
		})
	}

	types := testsupport.PendingTypes(t, store)
	if len(types) != 2 || types[1] != "note" {
		t.Fatalf("unexpected pending types: %v", types)
	}
}

func TestSnapshotAndClearReturnsOrderedItemsAndDrains(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		testsupport.MustEnqueue(t, store, fmt.Sprintf("t%d", i), map[string]int{"n": i})
	}

	snapshot, err := store.SnapshotAndClear(ctx)
	if err != nil {
		t.Fatalf("SnapshotAndClear failed: %v", err)
	}
	if len(snapshot) != 5 {
		t.Fatalf("expected 5 items, got %d", len(snapshot))
	}
	for i, item := range snapshot {
		if item.Type != fmt.Sprintf("t%d", i) {
			t.Fatalf("item %d out of order: %s", i, item.Type)
		}
		if i > 0 && item.ID <= snapshot[i-1].ID {
			t.Fatalf("ids not increasing at %d", i)
		}
	}

	again, err := store.SnapshotAndClear(ctx)
	if err != nil {
		t.Fatalf("second SnapshotAndClear failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty second snapshot, got %d items", len(again))
	}
}

func TestSnapshotAndClearOnEmptyStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	snapshot, err := store.SnapshotAndClear(context.Background())
	if err != nil {
		t.Fatalf("SnapshotAndClear failed: %v", err)
	}
	if len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot, got %#v", snapshot)
	}
}

func TestRestoreKeepsOriginalOrderAheadOfNewItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	early := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	store.WithClock(func() time.Time { return early })
	testsupport.MustEnqueue(t, store, "a", 1)
	testsupport.MustEnqueue(t, store, "b", 2)

	snapshot, err := store.SnapshotAndClear(ctx)
	if err != nil {
		t.Fatalf("SnapshotAndClear failed: %v", err)
	}

	store.WithClock(time.Now)
	testsupport.MustEnqueue(t, store, "c", 3)

	if err := store.Restore(ctx, snapshot); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	items, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	got := make([]string, 0, len(items))
	for _, item := range items {
		got = append(got, item.Type)
	}
	if fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("expected [a b c], got %v", got)
	}
	for i, item := range items[:2] {
		if item.ID != snapshot[i].ID {
			t.Fatalf("restored id changed: got %d want %d", item.ID, snapshot[i].ID)
		}
		if !item.CreatedAt.Equal(early) {
			t.Fatalf("restored createdAt changed: %s", item.CreatedAt)
		}
	}
}

func TestRestoreIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustEnqueue(t, store, "lead", map[string]string{"name": "A"})
	snapshot, err := store.SnapshotAndClear(ctx)
	if err != nil {
		t.Fatalf("SnapshotAndClear failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Restore(ctx, snapshot); err != nil {
			t.Fatalf("Restore #%d failed: %v", i+1, err)
		}
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected single restored item, got %d", count)
	}
}

func TestAutoincrementNeverReusesIDs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.MustEnqueue(t, store, "a", nil)
	if _, err := store.SnapshotAndClear(ctx); err != nil {
		t.Fatalf("SnapshotAndClear failed: %v", err)
	}
	second := testsupport.MustEnqueue(t, store, "b", nil)
	if second.ID <= first.ID {
		t.Fatalf("expected id after drain to exceed %d, got %d", first.ID, second.ID)
	}
}

func TestConcurrentEnqueueDuringSnapshotsLosesNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const producers = 4
	const perProducer = 25

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		drained  = make(map[int64]int)
		stop     = make(chan struct{})
		drainErr error
	)

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			snapshot, err := store.SnapshotAndClear(ctx)
			if err != nil {
				drainErr = err
				return
			}
			mu.Lock()
			for _, item := range snapshot {
				drained[item.ID]++
			}
			mu.Unlock()
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()

	enqueued := make(chan int64, producers*perProducer)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				item, err := store.Enqueue(ctx, "evt", json.RawMessage(fmt.Sprintf(`{"p":%d,"i":%d}`, p, i)))
				if err != nil {
					t.Errorf("Enqueue failed: %v", err)
					return
				}
				enqueued <- item.ID
			}
		}(p)
	}
	wg.Wait()
	close(stop)
	<-drainDone
	close(enqueued)

	if drainErr != nil {
		t.Fatalf("SnapshotAndClear failed: %v", drainErr)
	}

	final, err := store.SnapshotAndClear(ctx)
	if err != nil {
		t.Fatalf("final SnapshotAndClear failed: %v", err)
	}
	for _, item := range final {
		drained[item.ID]++
	}

	total := 0
	for id := range enqueued {
		total++
		if drained[id] != 1 {
			t.Fatalf("item %d observed %d times", id, drained[id])
		}
	}
	if total != producers*perProducer || len(drained) != total {
		t.Fatalf("expected %d unique items, drained %d", total, len(drained))
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	testsupport.MustEnqueue(t, store, "lead", map[string]string{"name": "A"})
	sourceID, err := store.SourceID(context.Background())
	if err != nil {
		t.Fatalf("SourceID failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	types := testsupport.PendingTypes(t, reopened)
	if len(types) != 1 || types[0] != "lead" {
		t.Fatalf("expected persisted lead, got %v", types)
	}
	again, err := reopened.SourceID(context.Background())
	if err != nil {
		t.Fatalf("SourceID failed: %v", err)
	}
	if again != sourceID {
		t.Fatalf("source id changed across reopen: %q vs %q", sourceID, again)
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustEnqueue(t, store, "lead", 1)
	testsupport.MustEnqueue(t, store, "lead", 2)
	testsupport.MustEnqueue(t, store, "note", 3)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 3 || stats.ByType["lead"] != 2 || stats.ByType["note"] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
	if stats.Oldest.IsZero() || stats.Newest.Before(stats.Oldest) {
		t.Fatalf("unexpected timestamps: %#v", stats)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %#v", health)
	}
	if len(health.MissingColumns) != 0 || health.TotalItems != 3 || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health details: %#v", health)
	}
}

func TestStorageErrorsAreClassified(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err = store.Enqueue(context.Background(), "lead", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected enqueue on closed store to fail")
	}
	if !queue.IsStorageError(err) || queue.ErrorKind(err) != "storage" {
		t.Fatalf("expected storage error, got %T %v", err, err)
	}
	if _, err := store.SnapshotAndClear(context.Background()); !queue.IsStorageError(err) {
		t.Fatalf("expected storage error from snapshot, got %v", err)
	}
}
