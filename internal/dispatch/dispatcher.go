package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"outbox/internal/connectivity"
	"outbox/internal/endpoint"
	"outbox/internal/logging"
	"outbox/internal/queue"
)

// Queue is the subset of queue.Store a cycle needs.
type Queue interface {
	SnapshotAndClear(ctx context.Context) ([]queue.Item, error)
	Restore(ctx context.Context, items []queue.Item) error
}

// Submitter delivers one batch to the sync endpoint.
type Submitter interface {
	Submit(ctx context.Context, batch endpoint.Batch) (endpoint.Ack, error)
}

// Dispatcher executes sync cycles.
type Dispatcher struct {
	queue     Queue
	submitter Submitter
	monitor   connectivity.Monitor
	sourceID  string
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	inFlight atomic.Bool

	mu                  sync.Mutex
	closed              bool
	active              int
	idle                chan struct{}
	cancelCycle         context.CancelFunc
	stranded            []queue.Item
	last                *Result
	cycles              int
	consecutiveFailures int
	observers           []func(Result)
}

// New constructs a Dispatcher. sourceID is sent with every batch.
func New(q Queue, submitter Submitter, monitor connectivity.Monitor, sourceID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:     q,
		submitter: submitter,
		monitor:   monitor,
		sourceID:  sourceID,
		logger:    logging.NewComponentLogger(logger, "dispatch"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithObserver registers fn to receive every finished cycle result, busy and
// stopped results excluded. Observers run on the cycle goroutine after the
// in-flight slot is released, so a slow observer never turns a new trigger
// into a busy result.
func (d *Dispatcher) WithObserver(fn func(Result)) *Dispatcher {
	if fn == nil {
		return d
	}
	d.mu.Lock()
	d.observers = append(d.observers, fn)
	d.mu.Unlock()
	return d
}

// Sync runs a cycle and discards the result. It matches the scheduler's
// SyncFunc signature.
func (d *Dispatcher) Sync(ctx context.Context, trigger string) {
	d.RunCycle(ctx, trigger)
}

// RunCycle performs one sync cycle. It never panics on delivery or storage
// failures; the outcome describes what happened.
func (d *Dispatcher) RunCycle(ctx context.Context, trigger string) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	if !d.inFlight.CompareAndSwap(false, true) {
		d.logger.Debug("sync cycle already in flight",
			logging.String(logging.FieldTrigger, trigger),
			logging.String(logging.FieldOutcome, string(OutcomeBusy)),
		)
		return Result{Trigger: trigger, Outcome: OutcomeBusy, StartedAt: d.now(), FinishedAt: d.now()}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !d.begin(cancel) {
		d.inFlight.Store(false)
		d.logger.Debug("sync cycle refused during shutdown",
			logging.String(logging.FieldTrigger, trigger),
			logging.String(logging.FieldOutcome, string(OutcomeStopped)),
		)
		return Result{Trigger: trigger, Outcome: OutcomeStopped, StartedAt: d.now(), FinishedAt: d.now()}
	}
	defer d.end()
	released := false
	defer func() {
		if !released {
			d.inFlight.Store(false)
		}
	}()

	result := Result{CycleID: d.newID(), Trigger: trigger, StartedAt: d.now()}
	ctx = logging.WithCycle(ctx, result.CycleID, trigger)
	logger := logging.WithContext(ctx, d.logger)

	d.cycle(ctx, logger, &result)

	result.FinishedAt = d.now()
	if result.Err != nil {
		result.Error = result.Err.Error()
	}
	observers := d.record(result)
	d.inFlight.Store(false)
	released = true

	for _, fn := range observers {
		fn(result)
	}
	return result
}

func (d *Dispatcher) begin(cancel context.CancelFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if d.active == 0 {
		d.idle = make(chan struct{})
	}
	d.active++
	d.cancelCycle = cancel
	return true
}

func (d *Dispatcher) end() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active--
	if d.active == 0 {
		d.cancelCycle = nil
		close(d.idle)
	}
}

// Shutdown makes later cycles return OutcomeStopped without touching the
// queue. A cycle already running is left alone; see Abort and Drain.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Resume undoes Shutdown.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	d.closed = false
	d.mu.Unlock()
}

// Abort cancels the running cycle's snapshot and submission. Undelivered
// items are still restored before the cycle returns.
func (d *Dispatcher) Abort() {
	d.mu.Lock()
	cancel := d.cancelCycle
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Drain blocks until no cycle is running, including its observers, or ctx
// ends.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.active == 0 {
		d.mu.Unlock()
		return nil
	}
	idle := d.idle
	d.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) cycle(ctx context.Context, logger *slog.Logger, result *Result) {
	// Restores must finish even when the caller gives up on the cycle.
	restoreCtx := context.WithoutCancel(ctx)

	if err := d.restoreStranded(restoreCtx, logger); err != nil {
		result.Outcome = OutcomeStorageError
		result.Err = err
		result.Stranded = d.strandedCount()
		return
	}

	if d.monitor != nil && !d.monitor.IsOnline() {
		result.Outcome = OutcomeOffline
		logger.Debug("sync skipped while offline",
			logging.String(logging.FieldOutcome, string(OutcomeOffline)),
		)
		return
	}

	items, err := d.queue.SnapshotAndClear(ctx)
	if err != nil {
		result.Outcome = OutcomeStorageError
		result.Err = err
		logging.ErrorWithContext(logger, "queue snapshot failed", "snapshot_failed",
			logging.String(logging.FieldOutcome, string(OutcomeStorageError)),
			logging.Error(err),
			logging.Hint("check the queue database and data_dir permissions"),
		)
		return
	}
	if len(items) == 0 {
		result.Outcome = OutcomeEmpty
		logger.Debug("sync found nothing pending", logging.String(logging.FieldOutcome, string(OutcomeEmpty)))
		return
	}
	result.Submitted = len(items)

	batch := endpoint.Batch{ID: result.CycleID, SourceID: d.sourceID, Items: items}
	ack, err := d.submitter.Submit(ctx, batch)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Restored, result.Stranded = d.putBack(restoreCtx, logger, items)
		logging.WarnWithContext(logger, "batch delivery failed", "delivery_failed",
			logging.String(logging.FieldOutcome, string(OutcomeFailed)),
			logging.Int(logging.FieldBatchSize, len(items)),
			logging.Int("restored", result.Restored),
			logging.Error(err),
			logging.Hint(deliveryHint(err)),
			logging.Impact("items stay queued and retry on the next cycle"),
		)
		return
	}

	delivered, remaining := ack.Delivered(items)
	result.Delivered = len(delivered)
	if len(remaining) == 0 {
		result.Outcome = OutcomeDelivered
		logger.Info("batch delivered",
			logging.String(logging.FieldEventType, "batch_delivered"),
			logging.String(logging.FieldOutcome, string(OutcomeDelivered)),
			logging.Int(logging.FieldBatchSize, len(items)),
			logging.Int("processed", result.Delivered),
		)
		return
	}

	result.Outcome = OutcomePartial
	result.Restored, result.Stranded = d.putBack(restoreCtx, logger, remaining)
	for _, failed := range ack.Failed {
		logger.Debug("endpoint reported item failure",
			logging.ItemID(failed.ID),
			logging.String("error", failed.Error),
		)
	}
	logging.WarnWithContext(logger, "batch partially delivered", "delivery_partial",
		logging.String(logging.FieldOutcome, string(OutcomePartial)),
		logging.Int(logging.FieldBatchSize, len(items)),
		logging.Int("processed", result.Delivered),
		logging.Int("restored", result.Restored),
		logging.Int("failed", len(ack.Failed)),
		logging.Hint("check sync endpoint logs for rejected items"),
		logging.Impact("unprocessed items stay queued and retry on the next cycle"),
	)
}

// putBack restores items, holding them in memory when the store refuses.
func (d *Dispatcher) putBack(ctx context.Context, logger *slog.Logger, items []queue.Item) (restored, stranded int) {
	if err := d.queue.Restore(ctx, items); err != nil {
		d.mu.Lock()
		d.stranded = append(d.stranded, items...)
		stranded = len(d.stranded)
		d.mu.Unlock()
		logging.ErrorWithContext(logger, "restore after failed delivery failed", "restore_failed",
			logging.Int("stranded", stranded),
			logging.Error(err),
			logging.Hint("items are held in memory until the queue database accepts writes"),
		)
		return 0, stranded
	}
	return len(items), 0
}

func (d *Dispatcher) restoreStranded(ctx context.Context, logger *slog.Logger) error {
	d.mu.Lock()
	pending := d.stranded
	d.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	if err := d.queue.Restore(ctx, pending); err != nil {
		logging.ErrorWithContext(logger, "stranded items still not restored", "restore_failed",
			logging.Int("stranded", len(pending)),
			logging.Error(err),
			logging.Hint("check the queue database and data_dir permissions"),
		)
		return err
	}
	d.mu.Lock()
	d.stranded = d.stranded[len(pending):]
	if len(d.stranded) == 0 {
		d.stranded = nil
	}
	d.mu.Unlock()
	logger.Info("stranded items restored",
		logging.String(logging.FieldEventType, "stranded_restored"),
		logging.Int("restored", len(pending)),
	)
	return nil
}

func (d *Dispatcher) strandedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stranded)
}

func (d *Dispatcher) record(result Result) []func(Result) {
	d.mu.Lock()
	d.cycles++
	switch {
	case result.Failed():
		d.consecutiveFailures++
	case result.Outcome == OutcomeDelivered, result.Outcome == OutcomePartial, result.Outcome == OutcomeEmpty:
		d.consecutiveFailures = 0
	}
	last := result
	d.last = &last
	observers := append([]func(Result){}, d.observers...)
	d.mu.Unlock()
	return observers
}

// Stats returns a snapshot of dispatcher history.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := Stats{
		Cycles:              d.cycles,
		ConsecutiveFailures: d.consecutiveFailures,
		Stranded:            len(d.stranded),
		InFlight:            d.inFlight.Load(),
	}
	if d.last != nil {
		last := *d.last
		stats.Last = &last
	}
	return stats
}

func deliveryHint(err error) string {
	derr, ok := endpoint.AsDeliveryError(err)
	if !ok {
		return "check network connectivity and sync.endpoint"
	}
	switch derr.Kind {
	case endpoint.KindRejected:
		if derr.StatusCode == http.StatusUnauthorized || derr.StatusCode == http.StatusForbidden {
			return "check sync.token"
		}
		return "check the sync endpoint's logs"
	case endpoint.KindSerialization:
		return "check that queued payloads are valid JSON and the endpoint replies with JSON"
	default:
		return "check network connectivity and sync.endpoint"
	}
}
