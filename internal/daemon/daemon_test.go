package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"outbox/internal/config"
	"outbox/internal/connectivity"
	"outbox/internal/daemon"
	"outbox/internal/dispatch"
	"outbox/internal/endpoint"
	"outbox/internal/logging"
	"outbox/internal/notifications"
	"outbox/internal/queue"
	"outbox/internal/testsupport"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	batches []endpoint.Batch
}

func (s *recordingSubmitter) Submit(_ context.Context, batch endpoint.Batch) (endpoint.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return endpoint.Ack{StatusCode: 200}, nil
}

func (s *recordingSubmitter) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, batch := range s.batches {
		for _, item := range batch.Items {
			types = append(types, item.Type)
		}
	}
	return types
}

func newDaemon(t *testing.T, cfg *config.Config, tracker *connectivity.Tracker, submitter *recordingSubmitter) (*daemon.Daemon, *queue.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, logging.NewNop(), daemon.Options{Tracker: tracker, Submitter: submitter})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg, connectivity.NewTracker(false), &recordingSubmitter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.SchedulerState != "armed" {
		t.Fatalf("expected armed scheduler, got %q", status.SchedulerState)
	}
	if status.SourceID == "" {
		t.Fatal("expected source id in status")
	}
	if d.APIAddress() == "" {
		t.Fatal("expected api server to be listening")
	}
	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		t.Fatalf("expected pid file: %v", err)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if status.SchedulerState != "stopped" {
		t.Fatalf("expected stopped scheduler, got %q", status.SchedulerState)
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, got %v", err)
	}

	// Stop is idempotent and the daemon can start again.
	d.Stop()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, store := newDaemon(t, cfg, connectivity.NewTracker(false), &recordingSubmitter{})

	second, err := daemon.New(cfg, store, logging.NewNop(), daemon.Options{
		Tracker:   connectivity.NewTracker(false),
		Submitter: &recordingSubmitter{},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail on the lock")
	}
	if second.Running() {
		t.Fatal("second instance should not be running")
	}
}

func TestDaemonDeliversQueuedItemsOnReconnect(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tracker := connectivity.NewTracker(false)
	submitter := &recordingSubmitter{}
	d, store := newDaemon(t, cfg, tracker, submitter)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, itemType := range []string{"like", "comment"} {
		if _, err := d.Enqueue(ctx, itemType, []byte(`{"post":1}`)); err != nil {
			t.Fatalf("Enqueue %s: %v", itemType, err)
		}
	}
	if got := testsupport.PendingTypes(t, store); len(got) != 2 {
		t.Fatalf("expected 2 pending items while offline, got %v", got)
	}

	tracker.Set(true)
	waitFor(t, 2*time.Second, func() bool {
		return len(testsupport.PendingTypes(t, store)) == 0
	})

	got := submitter.delivered()
	if len(got) != 2 || got[0] != "like" || got[1] != "comment" {
		t.Fatalf("unexpected delivery order: %v", got)
	}
	stats := d.Status(ctx).Dispatch
	if stats.Last == nil || stats.Last.Trigger != "reconnect" {
		t.Fatalf("expected last cycle triggered by reconnect, got %+v", stats.Last)
	}
}

func TestDaemonSyncNow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	submitter := &recordingSubmitter{}
	d, _ := newDaemon(t, cfg, connectivity.NewTracker(true), submitter)

	ctx := context.Background()
	if _, err := d.SyncNow(ctx); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := d.Enqueue(ctx, "share", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		if _, err := d.SyncNow(ctx); err != nil {
			t.Fatalf("SyncNow: %v", err)
		}
		return len(submitter.delivered()) == 1
	})
	if got := submitter.delivered(); len(got) != 1 || got[0] != "share" {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestDaemonIngestsSpoolFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSpool())
	d, store := newDaemon(t, cfg, connectivity.NewTracker(false), &recordingSubmitter{})

	testsupport.WriteJSON(t, filepath.Join(cfg.Spool.Dir, "before.json"), map[string]any{
		"type":    "bookmark",
		"payload": map[string]any{"url": "https://example.com"},
	})

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := testsupport.PendingTypes(t, store); len(got) != 1 || got[0] != "bookmark" {
		t.Fatalf("expected existing spool file ingested on start, got %v", got)
	}

	testsupport.WriteJSON(t, filepath.Join(cfg.Spool.Dir, "after.json"), map[string]any{"type": "follow"})
	waitFor(t, 2*time.Second, func() bool {
		return len(testsupport.PendingTypes(t, store)) == 2
	})
	if status := d.Status(context.Background()); status.SpoolDir != cfg.Spool.Dir {
		t.Fatalf("expected spool dir %q in status, got %q", cfg.Spool.Dir, status.SpoolDir)
	}
}

func TestNewRequiresConfigAndStore(t *testing.T) {
	if _, err := daemon.New(nil, nil, nil, daemon.Options{}); err == nil {
		t.Fatal("expected error without config and store")
	}
}

type failingSubmitter struct{}

func (failingSubmitter) Submit(context.Context, endpoint.Batch) (endpoint.Ack, error) {
	return endpoint.Ack{}, errors.New("endpoint unreachable")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) published() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

func TestDaemonAlertsOnRepeatedFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.FailureThreshold = 2
	store := testsupport.MustOpenStore(t, cfg)
	notifier := &recordingNotifier{}
	d, err := daemon.New(cfg, store, logging.NewNop(), daemon.Options{
		Tracker:   connectivity.NewTracker(true),
		Submitter: failingSubmitter{},
		Notifier:  notifier,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	testsupport.MustEnqueue(t, store, "like", map[string]int{"post": 1})
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := d.SyncNow(ctx); err != nil {
			t.Fatalf("SyncNow: %v", err)
		}
	}

	events := notifier.published()
	if len(events) != 1 || events[0] != notifications.EventSyncFailing {
		t.Fatalf("expected a single failing alert, got %v", events)
	}
	if got := testsupport.PendingTypes(t, store); len(got) != 1 || got[0] != "like" {
		t.Fatalf("expected failed item restored, got %v", got)
	}
}

// hangingSubmitter blocks until its context ends and then reports a
// transport failure, the way an HTTP client does on cancellation.
type hangingSubmitter struct {
	entered chan struct{}
	once    sync.Once
}

func newHangingSubmitter() *hangingSubmitter {
	return &hangingSubmitter{entered: make(chan struct{})}
}

func (s *hangingSubmitter) Submit(ctx context.Context, _ endpoint.Batch) (endpoint.Ack, error) {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return endpoint.Ack{}, &endpoint.DeliveryError{Kind: endpoint.KindTransport, Err: ctx.Err()}
}

func waitEntered(t *testing.T, s *hangingSubmitter) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("submission never started")
	}
}

func TestDaemonCloseRestoresBatchPastShutdownGrace(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Sync.ShutdownGrace = 0
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustEnqueue(t, store, "like", map[string]int{"post": 1})

	submitter := newHangingSubmitter()
	d, err := daemon.New(cfg, store, logging.NewNop(), daemon.Options{
		Tracker:   connectivity.NewTracker(true),
		Submitter: submitter,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEntered(t, submitter)

	closed := make(chan error, 1)
	go func() { closed <- d.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the grace period")
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	if got := testsupport.PendingTypes(t, reopened); len(got) != 1 || got[0] != "like" {
		t.Fatalf("expected in-flight item back in the queue after restart, got %v", got)
	}
}

func TestDaemonStopWaitsForManualSync(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Sync.ShutdownGrace = 0
	store := testsupport.MustOpenStore(t, cfg)
	submitter := newHangingSubmitter()
	d, err := daemon.New(cfg, store, logging.NewNop(), daemon.Options{
		Tracker:   connectivity.NewTracker(true),
		Submitter: submitter,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Let the startup cycle find the queue empty first.
	waitFor(t, 2*time.Second, func() bool { return d.Status(ctx).Dispatch.Cycles >= 1 })
	testsupport.MustEnqueue(t, store, "share", nil)

	synced := make(chan dispatch.Result, 1)
	go func() {
		result, _ := d.SyncNow(ctx)
		synced <- result
	}()
	waitEntered(t, submitter)

	d.Stop()
	if got := testsupport.PendingTypes(t, store); len(got) != 1 || got[0] != "share" {
		t.Fatalf("expected item restored before Stop returned, got %v", got)
	}
	select {
	case result := <-synced:
		if result.Outcome != dispatch.OutcomeFailed || result.Restored != 1 {
			t.Fatalf("expected aborted manual cycle to restore its item, got %+v", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manual sync never returned")
	}
	if _, err := d.SyncNow(ctx); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after Stop, got %v", err)
	}
}
