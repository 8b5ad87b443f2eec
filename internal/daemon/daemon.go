package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"outbox/internal/api"
	"outbox/internal/config"
	"outbox/internal/connectivity"
	"outbox/internal/dispatch"
	"outbox/internal/endpoint"
	"outbox/internal/logging"
	"outbox/internal/notifications"
	"outbox/internal/preflight"
	"outbox/internal/queue"
	"outbox/internal/scheduler"
	"outbox/internal/spool"
)

// ErrNotRunning is returned by operations that need a started daemon.
var ErrNotRunning = errors.New("daemon is not running")

// Options customizes daemon wiring.
type Options struct {
	// AssumeOnline replaces the reachability prober with a monitor that is
	// always online.
	AssumeOnline bool
	// Tracker overrides the connectivity monitor. The daemon does not probe
	// when it is set.
	Tracker *connectivity.Tracker
	// Submitter overrides the sync endpoint client.
	Submitter dispatch.Submitter
	// Notifier overrides the ntfy alert service built from config.
	Notifier notifications.Service
}

// Daemon coordinates the background sync services and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	dispatcher *dispatch.Dispatcher
	tracker    *connectivity.Tracker
	prober     *connectivity.Prober
	links      *connectivity.LinkWatcher
	spool      *spool.Watcher
	events     *eventHub
	alerts     *notifications.SyncAlerts
	api        *apiServer
	sourceID   string
	endpoint   string

	lockPath string
	pidPath  string
	lock     *flock.Flock

	mu          sync.Mutex
	running     atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	sched       *scheduler.Handle
	checks      []preflight.Result
	unsubscribe []func()
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	Online         bool
	OnlineSince    time.Time
	Pending        int
	SourceID       string
	Endpoint       string
	SchedulerState scheduler.State
	Interval       time.Duration
	NextRun        time.Time
	Dispatch       dispatch.Stats
	QueueDBPath    string
	LockFilePath   string
	LogPath        string
	SpoolDir       string
	Checks         []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	sourceID, err := store.SourceID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load source id: %w", err)
	}

	submitter := opts.Submitter
	if submitter == nil {
		client, err := endpoint.NewFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("create sync client: %w", err)
		}
		submitter = client
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		sourceID: sourceID,
		endpoint: cfg.Sync.Endpoint,
		lockPath: cfg.LockPath(),
		pidPath:  cfg.PIDPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	switch {
	case opts.Tracker != nil:
		d.tracker = opts.Tracker
	case opts.AssumeOnline:
		d.tracker = connectivity.NewTracker(true)
	default:
		probeClient := &http.Client{Timeout: cfg.ProbeTimeout()}
		d.prober = connectivity.NewProber(
			connectivity.HTTPProbe(probeClient, cfg.ProbeTarget()),
			connectivity.ProberOptions{Interval: cfg.ProbeInterval(), Timeout: cfg.ProbeTimeout()},
			logger,
		)
		d.tracker = d.prober.Tracker
		if cfg.Connectivity.Netlink {
			d.links = connectivity.NewLinkWatcher(func(string, string) { d.prober.Kick() }, logger)
		}
	}

	d.dispatcher = dispatch.New(store, submitter, d.tracker, sourceID, logger).WithObserver(d.publishCycle)
	d.events = newEventHub(logger)

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	d.alerts = notifications.NewSyncAlerts(notifier, cfg.Notifications.FailureThreshold, logger)

	if cfg.SpoolEnabled() {
		watcher, err := spool.New(store, spool.Options{Dir: cfg.Spool.Dir, Debounce: cfg.SpoolDebounce()}, logger)
		if err != nil {
			return nil, fmt.Errorf("create spool watcher: %w", err)
		}
		d.spool = watcher
	}

	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches monitoring, scheduling,
// intake and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another outbox daemon instance is already running")
	}
	if err := writePIDFile(d.pidPath); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("write pid file: %w", err)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.startServices(d.ctx); err != nil {
		d.shutdown()
		return err
	}

	d.running.Store(true)
	d.logger.Info("outbox daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("source_id", d.sourceID),
		logging.Bool("online", d.tracker.IsOnline()),
	)
	return nil
}

func (d *Daemon) startServices(ctx context.Context) error {
	d.checks = preflight.RunAll(ctx, d.cfg)
	for _, check := range preflight.Failed(d.checks) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.Hint("review outbox config show and directory permissions"),
			logging.Impact("items stay queued until the problem is fixed"),
		)
	}

	d.events.start()
	d.unsubscribe = append(d.unsubscribe, d.tracker.OnChange(func(online bool) {
		d.events.publish(api.Event{Type: api.EventConnectivityChanged, Online: &online})
	}))

	if d.prober != nil {
		if err := d.prober.Start(ctx); err != nil {
			return fmt.Errorf("start connectivity monitor: %w", err)
		}
	}
	if d.links != nil {
		if err := d.links.Start(ctx); err != nil {
			logging.WarnWithContext(d.logger, "netlink watcher unavailable", "netlink_unavailable",
				logging.Error(err),
				logging.Hint("link changes are picked up by the next probe instead"),
			)
		}
	}

	d.dispatcher.Resume()
	sched, err := scheduler.Start(ctx, d.dispatcher.Sync, d.tracker, scheduler.Options{Interval: d.cfg.SyncInterval()}, d.logger)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	d.sched = sched

	if d.spool != nil {
		d.spool.OnIngest(func(item queue.Item) { d.publishQueueChanged(&item) })
		if err := d.spool.Start(ctx); err != nil {
			return fmt.Errorf("start spool watcher: %w", err)
		}
	}

	if err := d.api.start(ctx); err != nil {
		return err
	}
	return nil
}

// Stop shuts down intake, the scheduler and the monitor, settles any
// in-flight cycle, and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.shutdown()
	d.running.Store(false)
	d.logger.Info("outbox daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// shutdown releases everything startServices acquired. Callers hold mu.
func (d *Daemon) shutdown() {
	d.api.stop()
	if d.spool != nil {
		if err := d.spool.Stop(); err != nil {
			d.logger.Warn("spool watcher stop failed", logging.Error(err))
		}
	}

	if d.sched != nil {
		d.sched.Stop()
	}
	d.drainCycles()
	if d.sched != nil {
		// Launched runs see a refusing dispatcher and return at once.
		_ = d.sched.Wait(context.Background())
		d.sched = nil
	}

	if d.links != nil {
		d.links.Stop()
	}
	if d.prober != nil {
		d.prober.Stop()
	}
	for _, fn := range d.unsubscribe {
		fn()
	}
	d.unsubscribe = nil
	d.events.close()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.ctx = nil
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove pid file", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// drainCycles refuses new cycles and waits up to the shutdown grace period
// for the running one. Past the grace period the cycle's submission is
// cancelled and the wait continues until its items are back in the store.
func (d *Daemon) drainCycles() {
	d.dispatcher.Shutdown()
	grace := d.cfg.ShutdownGrace()
	waitCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := d.dispatcher.Drain(waitCtx); err == nil {
		return
	}
	logging.WarnWithContext(d.logger, "in-flight sync did not finish before shutdown", "shutdown_grace_exceeded",
		logging.Duration("grace", grace),
		logging.Hint("raise sync.shutdown_grace if the endpoint is slow"),
		logging.Impact("the batch is cancelled and its items are restored to the queue before exit"),
	)
	d.dispatcher.Abort()
	if err := d.dispatcher.Drain(context.Background()); err != nil {
		d.logger.Debug("drain after abort ended early", logging.Error(err))
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start has succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the address the API server is listening on.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Enqueue appends an action to the queue.
func (d *Daemon) Enqueue(ctx context.Context, itemType string, payload json.RawMessage) (*queue.Item, error) {
	item, err := d.store.Enqueue(ctx, itemType, payload)
	if err != nil {
		return nil, err
	}
	d.logger.Info("action queued",
		logging.String(logging.FieldEventType, "item_enqueued"),
		logging.ItemID(item.ID),
		logging.String(logging.FieldItemType, item.Type),
	)
	d.publishQueueChanged(item)
	return item, nil
}

// ListQueue returns pending items in delivery order.
func (d *Daemon) ListQueue(ctx context.Context) ([]queue.Item, error) {
	return d.store.List(ctx)
}

// QueueStats summarizes the pending set.
func (d *Daemon) QueueStats(ctx context.Context) (queue.Stats, error) {
	return d.store.Stats(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// SyncNow runs one cycle immediately and returns its result. A cycle already
// in flight yields dispatch.OutcomeBusy. Shutdown waits for manual cycles the
// same way it waits for scheduled ones.
func (d *Daemon) SyncNow(ctx context.Context) (dispatch.Result, error) {
	if !d.running.Load() {
		return dispatch.Result{}, ErrNotRunning
	}
	result := d.dispatcher.RunCycle(ctx, scheduler.TriggerManual)
	if result.Outcome == dispatch.OutcomeStopped {
		return result, ErrNotRunning
	}
	return result, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Online:         d.tracker.IsOnline(),
		OnlineSince:    d.tracker.Since(),
		SourceID:       d.sourceID,
		Endpoint:       d.endpoint,
		SchedulerState: scheduler.StateStopped,
		Interval:       d.cfg.SyncInterval(),
		Dispatch:       d.dispatcher.Stats(),
		QueueDBPath:    d.store.Path(),
		LockFilePath:   d.lockPath,
		LogPath:        d.cfg.LogPath(),
	}
	if d.spool != nil {
		status.SpoolDir = d.spool.Dir()
	}
	if pending, err := d.store.Count(ctx); err == nil {
		status.Pending = pending
	} else {
		d.logger.Debug("status pending count failed", logging.Error(err))
	}

	d.mu.Lock()
	sched := d.sched
	status.Checks = append([]preflight.Result(nil), d.checks...)
	d.mu.Unlock()
	if sched != nil {
		status.SchedulerState = sched.State()
		status.NextRun = sched.NextRun()
	}
	return status
}

func (d *Daemon) publishCycle(result dispatch.Result) {
	dto := api.FromCycleResult(result)
	d.events.publish(api.Event{Type: api.EventSyncCycle, Cycle: &dto})
	if result.Submitted > 0 || result.Stranded > 0 {
		d.publishQueueChanged(nil)
	}

	pending, err := d.store.Count(context.Background())
	if err != nil {
		pending = 0
	}
	d.alerts.Observe(context.Background(), result, pending)
}

func (d *Daemon) publishQueueChanged(item *queue.Item) {
	evt := api.Event{Type: api.EventQueueChanged}
	if pending, err := d.store.Count(context.Background()); err == nil {
		evt.Pending = &pending
	}
	if item != nil {
		dto := api.FromQueueItem(*item)
		evt.Item = &dto
	}
	d.events.publish(evt)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
