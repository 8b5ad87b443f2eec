package dispatch

import "time"

// Outcome is the terminal state of one sync cycle.
type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomePartial      Outcome = "partial"
	OutcomeEmpty        Outcome = "empty"
	OutcomeOffline      Outcome = "offline"
	OutcomeFailed       Outcome = "failed"
	OutcomeStorageError Outcome = "storage_error"
	OutcomeBusy         Outcome = "busy"
	OutcomeStopped      Outcome = "stopped"
)

// Result describes one completed cycle.
type Result struct {
	CycleID    string    `json:"cycle_id,omitempty"`
	Trigger    string    `json:"trigger"`
	Outcome    Outcome   `json:"outcome"`
	Submitted  int       `json:"submitted"`
	Delivered  int       `json:"delivered"`
	Restored   int       `json:"restored"`
	Stranded   int       `json:"stranded,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`

	Err error `json:"-"`
}

// Duration reports how long the cycle ran.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether the cycle ended without reaching the endpoint or
// without touching the queue because of an error.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeFailed || r.Outcome == OutcomeStorageError
}

// Stats summarizes dispatcher history for status reporting.
type Stats struct {
	Last                *Result `json:"last,omitempty"`
	Cycles              int     `json:"cycles"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	Stranded            int     `json:"stranded"`
	InFlight            bool    `json:"in_flight"`
}
