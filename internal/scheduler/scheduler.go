package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"outbox/internal/connectivity"
	"outbox/internal/logging"
)

// Trigger names passed to SyncFunc.
const (
	TriggerStartup   = "startup"
	TriggerInterval  = "interval"
	TriggerReconnect = "reconnect"
	TriggerManual    = "manual"
)

// DefaultInterval applies when Options.Interval is unset.
const DefaultInterval = 10 * time.Minute

// SyncFunc runs one sync attempt. Failures are the callee's concern.
type SyncFunc func(ctx context.Context, trigger string)

// State reports whether a Handle still schedules attempts.
type State string

const (
	StateArmed   State = "armed"
	StateStopped State = "stopped"
)

// Options configures the schedule.
type Options struct {
	Interval time.Duration
}

// Handle owns a running schedule.
type Handle struct {
	sync     SyncFunc
	logger   *slog.Logger
	interval time.Duration
	runCtx   context.Context
	cron     *cron.Cron
	entry    cron.EntryID
	stopped  chan struct{}

	mu         sync.Mutex
	state      State
	unregister func()
	inflight   int
	drained    chan struct{}
}

// everySchedule fires at a constant interval from the previous activation.
// Unlike cron.Every it keeps sub-second precision.
type everySchedule struct {
	interval time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

// Start arms the schedule and fires the startup attempt. The schedule stops
// on Stop or when ctx ends; running attempts keep ctx's values but not its
// cancellation.
func Start(ctx context.Context, syncFn SyncFunc, monitor connectivity.Monitor, opts Options, logger *slog.Logger) (*Handle, error) {
	if syncFn == nil {
		return nil, errors.New("scheduler: sync function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	logger = logging.NewComponentLogger(logger, "scheduler")
	cronLog := cronLogger{logger: logger}

	h := &Handle{
		sync:     syncFn,
		logger:   logger,
		interval: opts.Interval,
		runCtx:   context.WithoutCancel(ctx),
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		), cron.WithLogger(cronLog)),
		stopped: make(chan struct{}),
		state:   StateArmed,
	}
	h.entry = h.cron.Schedule(everySchedule{interval: opts.Interval}, cron.FuncJob(func() {
		h.runNow(TriggerInterval)
	}))

	if monitor != nil {
		h.unregister = monitor.OnReconnect(func() {
			h.launch(TriggerReconnect)
		})
	}

	h.cron.Start()
	logger.Info("sync scheduler armed",
		logging.String(logging.FieldEventType, "scheduler_armed"),
		logging.Duration("interval", opts.Interval),
	)
	h.launch(TriggerStartup)

	go func() {
		select {
		case <-ctx.Done():
			h.Stop()
		case <-h.stopped:
		}
	}()
	return h, nil
}

// Trigger requests an on-demand attempt. It reports false once stopped.
func (h *Handle) Trigger(reason string) bool {
	if h == nil {
		return false
	}
	if reason == "" {
		reason = TriggerManual
	}
	return h.launch(reason)
}

// Stop disarms the schedule. After it returns no new attempt starts.
// Attempts already running are not cancelled; use Wait to join them.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.state == StateStopped {
		h.mu.Unlock()
		return
	}
	h.state = StateStopped
	unregister := h.unregister
	h.unregister = nil
	h.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	h.cron.Stop()
	close(h.stopped)
	h.logger.Info("sync scheduler stopped",
		logging.String(logging.FieldEventType, "scheduler_stopped"),
	)
}

// Wait blocks until no attempt is running or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.inflight == 0 {
		h.mu.Unlock()
		return nil
	}
	drained := h.drained
	h.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight sync: %w", ctx.Err())
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	if h == nil {
		return StateStopped
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Interval returns the configured period.
func (h *Handle) Interval() time.Duration {
	if h == nil {
		return 0
	}
	return h.interval
}

// NextRun returns when the next interval attempt is due, or zero once
// stopped.
func (h *Handle) NextRun() time.Time {
	if h == nil || h.State() != StateArmed {
		return time.Time{}
	}
	return h.cron.Entry(h.entry).Next
}

// InFlight reports the number of running attempts.
func (h *Handle) InFlight() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inflight
}

// begin reserves an attempt slot while armed.
func (h *Handle) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateArmed {
		return false
	}
	if h.inflight == 0 {
		h.drained = make(chan struct{})
	}
	h.inflight++
	return true
}

func (h *Handle) end() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight--
	if h.inflight == 0 {
		close(h.drained)
	}
}

// launch runs an attempt on its own goroutine so callers such as the
// connectivity monitor are never blocked by a cycle.
func (h *Handle) launch(trigger string) bool {
	if !h.begin() {
		h.logger.Debug("sync attempt ignored after stop", logging.String(logging.FieldTrigger, trigger))
		return false
	}
	go h.run(trigger)
	return true
}

func (h *Handle) runNow(trigger string) {
	if !h.begin() {
		return
	}
	h.run(trigger)
}

func (h *Handle) run(trigger string) {
	defer h.end()
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(h.logger, "sync attempt panicked", "sync_panic",
				logging.String(logging.FieldTrigger, trigger),
				logging.Any("panic", r),
			)
		}
	}()
	h.logger.Debug("sync attempt started", logging.String(logging.FieldTrigger, trigger))
	h.sync(h.runCtx, trigger)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
