package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"outbox/internal/dispatch"
	"outbox/internal/logging"
)

// SyncAlerts tracks consecutive failed cycles and publishes an alert when
// the count reaches the threshold.
type SyncAlerts struct {
	svc       Service
	threshold int
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	failures     int
	alerted      bool
	failingSince time.Time
}

// NewSyncAlerts constructs a tracker. A threshold below one is treated as one.
func NewSyncAlerts(svc Service, threshold int, logger *slog.Logger) *SyncAlerts {
	if svc == nil {
		svc = noopService{}
	}
	if threshold < 1 {
		threshold = 1
	}
	return &SyncAlerts{
		svc:       svc,
		threshold: threshold,
		logger:    logging.NewComponentLogger(logger, "sync-alerts"),
		now:       time.Now,
	}
}

// Observe records one cycle result. pending is the queue depth after the cycle.
func (a *SyncAlerts) Observe(ctx context.Context, result dispatch.Result, pending int) {
	if a == nil {
		return
	}
	event, payload, ok := a.transition(result, pending)
	if !ok {
		return
	}
	if err := a.svc.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(a.logger, "sync alert not delivered", "notification_failed",
			logging.String("notification", string(event)),
			logging.Error(err),
			logging.Hint("check notifications.ntfy_topic"),
			logging.Impact("sync health alert was dropped"),
		)
		return
	}
	a.logger.Info("sync alert sent", logging.String("notification", string(event)))
}

// Failures reports the current run of consecutive failed cycles.
func (a *SyncAlerts) Failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures
}

func (a *SyncAlerts) transition(result dispatch.Result, pending int) (Event, Payload, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch result.Outcome {
	case dispatch.OutcomeFailed, dispatch.OutcomeStorageError:
		if a.failures == 0 {
			a.failingSince = a.now()
		}
		a.failures++
		if a.alerted || a.failures < a.threshold {
			return "", nil, false
		}
		a.alerted = true
		return EventSyncFailing, Payload{
			"failures": a.failures,
			"pending":  pending,
			"outcome":  string(result.Outcome),
			"error":    result.Error,
		}, true
	case dispatch.OutcomeDelivered, dispatch.OutcomePartial, dispatch.OutcomeEmpty:
		wasAlerted := a.alerted
		since := a.failingSince
		a.failures = 0
		a.alerted = false
		a.failingSince = time.Time{}
		if !wasAlerted {
			return "", nil, false
		}
		return EventSyncRecovered, Payload{
			"delivered": result.Delivered,
			"outage":    a.now().Sub(since),
		}, true
	default:
		return "", nil, false
	}
}
