package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"outbox/internal/connectivity"
	"outbox/internal/dispatch"
	"outbox/internal/endpoint"
	"outbox/internal/queue"
	"outbox/internal/scheduler"
	"outbox/internal/testsupport"
)

type submitFunc func(ctx context.Context, batch endpoint.Batch) (endpoint.Ack, error)

func (f submitFunc) Submit(ctx context.Context, batch endpoint.Batch) (endpoint.Ack, error) {
	return f(ctx, batch)
}

type recordingSubmitter struct {
	mu      sync.Mutex
	batches []endpoint.Batch
	ack     endpoint.Ack
	err     error
}

func (r *recordingSubmitter) Submit(_ context.Context, batch endpoint.Batch) (endpoint.Ack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return r.ack, r.err
}

func (r *recordingSubmitter) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// flakyRestore fails the first n Restore calls.
type flakyRestore struct {
	*queue.Store
	failures atomic.Int32
}

func (f *flakyRestore) Restore(ctx context.Context, items []queue.Item) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	return f.Store.Restore(ctx, items)
}

func itemIDs(items []queue.Item) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func listItems(t *testing.T, store *queue.Store) []queue.Item {
	t.Helper()
	items, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return items
}

func TestRunCycleDeliversPendingItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	first := testsupport.MustEnqueue(t, store, "like", map[string]int{"post": 1})
	second := testsupport.MustEnqueue(t, store, "comment", map[string]string{"text": "hi"})

	submitter := &recordingSubmitter{}
	d := dispatch.New(store, submitter, connectivity.NewTracker(true), "src-1", nil)

	result := d.RunCycle(context.Background(), scheduler.TriggerManual)
	if result.Outcome != dispatch.OutcomeDelivered {
		t.Fatalf("expected delivered, got %s (%v)", result.Outcome, result.Err)
	}
	if result.Submitted != 2 || result.Delivered != 2 || result.Restored != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.CycleID == "" || result.Trigger != scheduler.TriggerManual {
		t.Fatalf("expected cycle id and trigger, got %+v", result)
	}

	if submitter.calls() != 1 {
		t.Fatalf("expected one submission, got %d", submitter.calls())
	}
	batch := submitter.batches[0]
	if batch.SourceID != "src-1" || batch.ID != result.CycleID {
		t.Fatalf("unexpected batch identity: %+v", batch)
	}
	if got := itemIDs(batch.Items); !slices.Equal(got, []int64{first.ID, second.ID}) {
		t.Fatalf("expected ordered batch, got %v", got)
	}

	if count, _ := store.Count(context.Background()); count != 0 {
		t.Fatalf("expected empty queue after delivery, got %d", count)
	}
}

func TestRunCycleOfflineLeavesQueueUntouched(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "like", nil)

	submitter := &recordingSubmitter{}
	d := dispatch.New(store, submitter, connectivity.NewTracker(false), "", nil)

	result := d.RunCycle(context.Background(), scheduler.TriggerInterval)
	if result.Outcome != dispatch.OutcomeOffline {
		t.Fatalf("expected offline, got %s", result.Outcome)
	}
	if submitter.calls() != 0 {
		t.Fatal("expected no submission while offline")
	}
	if got := testsupport.PendingTypes(t, store); !slices.Equal(got, []string{"like"}) {
		t.Fatalf("expected item to remain queued, got %v", got)
	}
}

func TestRunCycleEmptyQueueSkipsNetwork(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	submitter := &recordingSubmitter{}
	d := dispatch.New(store, submitter, connectivity.NewTracker(true), "", nil)

	result := d.RunCycle(context.Background(), scheduler.TriggerStartup)
	if result.Outcome != dispatch.OutcomeEmpty {
		t.Fatalf("expected empty, got %s", result.Outcome)
	}
	if submitter.calls() != 0 {
		t.Fatal("expected no submission for empty queue")
	}
}

// The endpoint fails once; the batch is restored in order with original
// timestamps, stays ahead of a later enqueue, and is delivered next cycle.
func TestRunCycleServerErrorThenSuccess(t *testing.T) {
	var requests atomic.Int32
	var received [][]float64
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "try later", http.StatusInternalServerError)
			return
		}
		var body struct {
			Items []struct {
				ID float64 `json:"id"`
			} `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		ids := make([]float64, 0, len(body.Items))
		for _, item := range body.Items {
			ids = append(ids, item.ID)
		}
		mu.Lock()
		received = append(received, ids)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithEndpoint(server.URL))
	store := testsupport.MustOpenStore(t, cfg)
	client, err := endpoint.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	first := testsupport.MustEnqueue(t, store, "like", map[string]int{"post": 1})
	second := testsupport.MustEnqueue(t, store, "like", map[string]int{"post": 2})
	before := listItems(t, store)

	d := dispatch.New(store, client, connectivity.NewTracker(true), "src", nil)

	failed := d.RunCycle(context.Background(), scheduler.TriggerStartup)
	if failed.Outcome != dispatch.OutcomeFailed {
		t.Fatalf("expected failed, got %s", failed.Outcome)
	}
	derr, ok := endpoint.AsDeliveryError(failed.Err)
	if !ok || derr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected rejected delivery error, got %v", failed.Err)
	}
	if failed.Restored != 2 || failed.Stranded != 0 {
		t.Fatalf("expected full restore, got %+v", failed)
	}

	restored := listItems(t, store)
	if len(restored) != len(before) {
		t.Fatalf("expected %d restored items, got %d", len(before), len(restored))
	}
	for i := range before {
		if restored[i].ID != before[i].ID || !restored[i].CreatedAt.Equal(before[i].CreatedAt) || string(restored[i].Payload) != string(before[i].Payload) {
			t.Fatalf("restored item %d differs: %+v vs %+v", i, restored[i], before[i])
		}
	}

	third := testsupport.MustEnqueue(t, store, "like", map[string]int{"post": 3})
	if stats := d.Stats(); stats.ConsecutiveFailures != 1 {
		t.Fatalf("expected one consecutive failure, got %d", stats.ConsecutiveFailures)
	}

	delivered := d.RunCycle(context.Background(), scheduler.TriggerInterval)
	if delivered.Outcome != dispatch.OutcomeDelivered || delivered.Delivered != 3 {
		t.Fatalf("expected 3 delivered, got %+v", delivered)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []float64{float64(first.ID), float64(second.ID), float64(third.ID)}
	if len(received) != 1 || !slices.Equal(received[0], want) {
		t.Fatalf("expected ordered redelivery %v, got %v", want, received)
	}
	if stats := d.Stats(); stats.ConsecutiveFailures != 0 || stats.Cycles != 2 {
		t.Fatalf("unexpected stats after recovery: %+v", stats)
	}
}

func TestRetriedBatchKeepsIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys, batches []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		batches = append(batches, r.Header.Get("X-Outbox-Batch"))
		attempt := len(keys)
		mu.Unlock()
		if attempt == 1 {
			http.Error(w, "upstream timeout", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithEndpoint(server.URL))
	store := testsupport.MustOpenStore(t, cfg)
	client, err := endpoint.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	testsupport.MustEnqueue(t, store, "like", map[string]int{"post": 1})
	testsupport.MustEnqueue(t, store, "like", map[string]int{"post": 2})

	d := dispatch.New(store, client, connectivity.NewTracker(true), "src", nil)
	if result := d.RunCycle(context.Background(), scheduler.TriggerStartup); result.Outcome != dispatch.OutcomeFailed {
		t.Fatalf("expected failed first attempt, got %s", result.Outcome)
	}
	if result := d.RunCycle(context.Background(), scheduler.TriggerInterval); result.Outcome != dispatch.OutcomeDelivered {
		t.Fatalf("expected delivered retry, got %s", result.Outcome)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 || keys[0] == "" || keys[0] != keys[1] {
		t.Fatalf("expected the retry to repeat the Idempotency-Key, got %v", keys)
	}
	if batches[0] == batches[1] {
		t.Fatalf("expected distinct cycle ids per attempt, got %v", batches)
	}
}

func TestRunCyclePartialAckRestoresRemainder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	a := testsupport.MustEnqueue(t, store, "a", nil)
	b := testsupport.MustEnqueue(t, store, "b", nil)
	c := testsupport.MustEnqueue(t, store, "c", nil)

	submitter := &recordingSubmitter{ack: endpoint.Ack{
		StatusCode: http.StatusOK,
		Processed:  []int64{a.ID, c.ID},
		Failed:     []endpoint.FailedItem{{ID: b.ID, Error: "invalid"}},
	}}
	d := dispatch.New(store, submitter, connectivity.NewTracker(true), "", nil)

	result := d.RunCycle(context.Background(), scheduler.TriggerManual)
	if result.Outcome != dispatch.OutcomePartial {
		t.Fatalf("expected partial, got %s", result.Outcome)
	}
	if result.Delivered != 2 || result.Restored != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if got := testsupport.PendingTypes(t, store); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("expected only b to remain, got %v", got)
	}
}

func TestRunCycleCoalescesConcurrentTriggers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "like", nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	submitter := submitFunc(func(ctx context.Context, batch endpoint.Batch) (endpoint.Ack, error) {
		calls.Add(1)
		close(entered)
		<-release
		return endpoint.Ack{StatusCode: http.StatusOK}, nil
	})
	d := dispatch.New(store, submitter, connectivity.NewTracker(true), "", nil)

	done := make(chan dispatch.Result, 1)
	go func() { done <- d.RunCycle(context.Background(), scheduler.TriggerInterval) }()
	<-entered

	busy := d.RunCycle(context.Background(), scheduler.TriggerReconnect)
	if busy.Outcome != dispatch.OutcomeBusy {
		t.Fatalf("expected busy, got %s", busy.Outcome)
	}
	if !d.Stats().InFlight {
		t.Fatal("expected stats to report an in-flight cycle")
	}
	close(release)

	if result := <-done; result.Outcome != dispatch.OutcomeDelivered {
		t.Fatalf("expected first cycle to deliver, got %s", result.Outcome)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one submission, got %d", calls.Load())
	}
	if stats := d.Stats(); stats.Cycles != 1 {
		t.Fatalf("busy result should not be recorded, got %d cycles", stats.Cycles)
	}
}

func TestRunCycleRestoresAfterCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "like", nil)
	testsupport.MustEnqueue(t, store, "share", nil)

	ctx, cancel := context.WithCancel(context.Background())
	submitter := submitFunc(func(ctx context.Context, batch endpoint.Batch) (endpoint.Ack, error) {
		cancel()
		<-ctx.Done()
		return endpoint.Ack{}, &endpoint.DeliveryError{Kind: endpoint.KindTransport, Err: ctx.Err()}
	})
	d := dispatch.New(store, submitter, connectivity.NewTracker(true), "", nil)

	result := d.RunCycle(ctx, scheduler.TriggerManual)
	if result.Outcome != dispatch.OutcomeFailed || !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("expected cancelled failure, got %s (%v)", result.Outcome, result.Err)
	}
	if got := testsupport.PendingTypes(t, store); !slices.Equal(got, []string{"like", "share"}) {
		t.Fatalf("expected items restored despite cancellation, got %v", got)
	}
}

func TestRunCycleStrandedItemsRestoredNextCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "like", nil)
	testsupport.MustEnqueue(t, store, "share", nil)

	flaky := &flakyRestore{Store: store}
	flaky.failures.Store(1)

	submitter := &recordingSubmitter{err: &endpoint.DeliveryError{Kind: endpoint.KindTransport, Err: errors.New("refused")}}
	tracker := connectivity.NewTracker(true)
	d := dispatch.New(flaky, submitter, tracker, "", nil)

	failed := d.RunCycle(context.Background(), scheduler.TriggerStartup)
	if failed.Outcome != dispatch.OutcomeFailed || failed.Stranded != 2 || failed.Restored != 0 {
		t.Fatalf("expected stranded failure, got %+v", failed)
	}
	if count, _ := store.Count(context.Background()); count != 0 {
		t.Fatalf("expected queue empty while items are stranded, got %d", count)
	}
	if d.Stats().Stranded != 2 {
		t.Fatalf("expected stats to report stranded items, got %+v", d.Stats())
	}

	// Offline cycles still put stranded items back.
	tracker.Set(false)
	offline := d.RunCycle(context.Background(), scheduler.TriggerInterval)
	if offline.Outcome != dispatch.OutcomeOffline {
		t.Fatalf("expected offline, got %s", offline.Outcome)
	}
	if got := testsupport.PendingTypes(t, store); !slices.Equal(got, []string{"like", "share"}) {
		t.Fatalf("expected stranded items back in order, got %v", got)
	}
	if d.Stats().Stranded != 0 {
		t.Fatal("expected no stranded items after restore")
	}
}

func TestRunCycleStrandedRestoreFailureStopsCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "like", nil)

	flaky := &flakyRestore{Store: store}
	flaky.failures.Store(2)

	submitter := &recordingSubmitter{err: &endpoint.DeliveryError{Kind: endpoint.KindRejected, StatusCode: http.StatusBadGateway}}
	d := dispatch.New(flaky, submitter, connectivity.NewTracker(true), "", nil)

	d.RunCycle(context.Background(), scheduler.TriggerStartup)
	testsupport.MustEnqueue(t, store, "share", nil)

	result := d.RunCycle(context.Background(), scheduler.TriggerInterval)
	if result.Outcome != dispatch.OutcomeStorageError || result.Stranded != 1 {
		t.Fatalf("expected storage error with stranded item, got %+v", result)
	}
	if submitter.calls() != 1 {
		t.Fatalf("newer items must not be sent ahead of stranded ones, got %d submissions", submitter.calls())
	}
	if got := testsupport.PendingTypes(t, store); !slices.Equal(got, []string{"share"}) {
		t.Fatalf("expected newer item untouched, got %v", got)
	}
}

func TestRunCycleSnapshotFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	store.Close()

	submitter := &recordingSubmitter{}
	d := dispatch.New(store, submitter, connectivity.NewTracker(true), "", nil)

	result := d.RunCycle(context.Background(), scheduler.TriggerManual)
	if result.Outcome != dispatch.OutcomeStorageError {
		t.Fatalf("expected storage error, got %s", result.Outcome)
	}
	if !queue.IsStorageError(result.Err) || result.Error == "" {
		t.Fatalf("expected storage error detail, got %v", result.Err)
	}
	if submitter.calls() != 0 {
		t.Fatal("expected no submission after snapshot failure")
	}
	if !result.Failed() || d.Stats().ConsecutiveFailures != 1 {
		t.Fatalf("expected failure to be counted, got %+v", d.Stats())
	}
}

func TestObserverReceivesResults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := dispatch.New(store, &recordingSubmitter{}, connectivity.NewTracker(true), "", nil)

	var seen []dispatch.Outcome
	d.WithObserver(func(r dispatch.Result) { seen = append(seen, r.Outcome) }).WithObserver(nil)

	d.Sync(context.Background(), scheduler.TriggerStartup)
	testsupport.MustEnqueue(t, store, "like", nil)
	d.Sync(context.Background(), scheduler.TriggerManual)

	want := []dispatch.Outcome{dispatch.OutcomeEmpty, dispatch.OutcomeDelivered}
	if !slices.Equal(seen, want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	last := d.Stats().Last
	if last == nil || last.Outcome != dispatch.OutcomeDelivered || last.Duration() < 0 {
		t.Fatalf("unexpected last result: %+v", last)
	}
}

func TestSlowObserverDoesNotBlockNextCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := dispatch.New(store, &recordingSubmitter{}, connectivity.NewTracker(true), "", nil)

	observing := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	d.WithObserver(func(dispatch.Result) {
		if calls.Add(1) == 1 {
			close(observing)
			<-release
		}
	})

	first := make(chan dispatch.Result, 1)
	go func() { first <- d.RunCycle(context.Background(), scheduler.TriggerInterval) }()
	<-observing

	testsupport.MustEnqueue(t, store, "like", nil)
	next := d.RunCycle(context.Background(), scheduler.TriggerReconnect)
	if next.Outcome != dispatch.OutcomeDelivered {
		t.Fatalf("expected delivery while the previous observer runs, got %s", next.Outcome)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Drain(drainCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Drain to wait for the running observer, got %v", err)
	}
	close(release)
	if result := <-first; result.Outcome != dispatch.OutcomeEmpty {
		t.Fatalf("expected empty first cycle, got %s", result.Outcome)
	}
	if err := d.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestShutdownRefusesCyclesUntilResumed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "like", nil)
	submitter := &recordingSubmitter{}
	d := dispatch.New(store, submitter, connectivity.NewTracker(true), "", nil)

	var observed atomic.Int32
	d.WithObserver(func(dispatch.Result) { observed.Add(1) })

	d.Shutdown()
	stopped := d.RunCycle(context.Background(), scheduler.TriggerManual)
	if stopped.Outcome != dispatch.OutcomeStopped {
		t.Fatalf("expected stopped, got %s", stopped.Outcome)
	}
	if submitter.calls() != 0 || observed.Load() != 0 || d.Stats().Cycles != 0 {
		t.Fatal("a refused cycle must not submit, notify or count")
	}
	if got := testsupport.PendingTypes(t, store); !slices.Equal(got, []string{"like"}) {
		t.Fatalf("expected queue untouched, got %v", got)
	}

	d.Resume()
	if result := d.RunCycle(context.Background(), scheduler.TriggerManual); result.Outcome != dispatch.OutcomeDelivered {
		t.Fatalf("expected delivery after Resume, got %s", result.Outcome)
	}
}

func TestAbortRestoresInFlightBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "like", nil)
	testsupport.MustEnqueue(t, store, "share", nil)

	entered := make(chan struct{})
	submitter := submitFunc(func(ctx context.Context, batch endpoint.Batch) (endpoint.Ack, error) {
		close(entered)
		<-ctx.Done()
		return endpoint.Ack{}, &endpoint.DeliveryError{Kind: endpoint.KindTransport, Err: ctx.Err()}
	})
	d := dispatch.New(store, submitter, connectivity.NewTracker(true), "", nil)

	done := make(chan dispatch.Result, 1)
	go func() { done <- d.RunCycle(context.Background(), scheduler.TriggerInterval) }()
	<-entered

	d.Shutdown()
	d.Abort()
	if err := d.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	result := <-done
	if result.Outcome != dispatch.OutcomeFailed || result.Restored != 2 {
		t.Fatalf("expected aborted cycle to restore both items, got %+v", result)
	}
	if got := testsupport.PendingTypes(t, store); !slices.Equal(got, []string{"like", "share"}) {
		t.Fatalf("expected items back in order, got %v", got)
	}
	d.Abort()
}

// No item is lost or duplicated while producers enqueue and cycles fail
// and succeed in turn.
func TestNoLossUnderInterleavedEnqueueAndCycles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	var mu sync.Mutex
	seen := make(map[int64]int)
	var attempt atomic.Int32
	submitter := submitFunc(func(ctx context.Context, batch endpoint.Batch) (endpoint.Ack, error) {
		if attempt.Add(1)%2 == 0 {
			return endpoint.Ack{}, &endpoint.DeliveryError{Kind: endpoint.KindTransport, Err: errors.New("flap")}
		}
		mu.Lock()
		for _, item := range batch.Items {
			seen[item.ID]++
		}
		mu.Unlock()
		return endpoint.Ack{StatusCode: http.StatusOK}, nil
	})
	d := dispatch.New(store, submitter, connectivity.NewTracker(true), "", nil)

	const producers, perProducer = 4, 20
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if _, err := store.Enqueue(context.Background(), "tap", json.RawMessage(`{}`)); err != nil {
					t.Errorf("Enqueue: %v", err)
					return
				}
			}
		}()
	}

	stop := make(chan struct{})
	cycles := make(chan struct{})
	go func() {
		defer close(cycles)
		for {
			select {
			case <-stop:
				return
			default:
			}
			d.RunCycle(context.Background(), scheduler.TriggerInterval)
			time.Sleep(time.Millisecond)
		}
	}()
	wg.Wait()
	close(stop)
	<-cycles

	deadline := time.Now().Add(5 * time.Second)
	for {
		count, err := store.Count(context.Background())
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if count == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue did not drain, %d left", count)
		}
		d.RunCycle(context.Background(), scheduler.TriggerManual)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != producers*perProducer {
		t.Fatalf("expected %d distinct deliveries, got %d", producers*perProducer, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("item %d delivered %d times", id, n)
		}
	}
}
