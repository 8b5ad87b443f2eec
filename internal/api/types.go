package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Event types published on the event stream.
const (
	EventQueueChanged        = "queue_changed"
	EventConnectivityChanged = "connectivity_changed"
	EventSyncCycle           = "sync_cycle"
)

// QueueItem describes a pending action in a transport-friendly format.
type QueueItem struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"createdAt,omitempty"`
}

// EnqueueRequest is the body of POST /api/queue.
type EnqueueRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// QueueListResponse wraps the pending items.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse wraps a single queue item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// QueueStatsResponse summarizes the pending set.
type QueueStatsResponse struct {
	Pending int            `json:"pending"`
	Oldest  string         `json:"oldest,omitempty"`
	Newest  string         `json:"newest,omitempty"`
	ByType  map[string]int `json:"byType"`
}

// CycleResult describes one sync cycle.
type CycleResult struct {
	CycleID    string `json:"cycleId,omitempty"`
	Trigger    string `json:"trigger"`
	Outcome    string `json:"outcome"`
	Submitted  int    `json:"submitted"`
	Delivered  int    `json:"delivered"`
	Restored   int    `json:"restored"`
	Stranded   int    `json:"stranded,omitempty"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
}

// SyncResponse is returned by POST /api/sync.
type SyncResponse struct {
	Result CycleResult `json:"result"`
}

// SchedulerStatus reports the sync schedule.
type SchedulerStatus struct {
	State           string `json:"state"`
	IntervalSeconds int64  `json:"intervalSeconds"`
	NextRun         string `json:"nextRun,omitempty"`
}

// CheckResult reports one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running             bool            `json:"running"`
	PID                 int             `json:"pid"`
	Online              bool            `json:"online"`
	OnlineSince         string          `json:"onlineSince,omitempty"`
	Pending             int             `json:"pending"`
	SourceID            string          `json:"sourceId,omitempty"`
	Endpoint            string          `json:"endpoint"`
	Scheduler           SchedulerStatus `json:"scheduler"`
	LastCycle           *CycleResult    `json:"lastCycle,omitempty"`
	Cycles              int             `json:"cycles"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	Stranded            int             `json:"stranded"`
	QueueDBPath         string          `json:"queueDbPath"`
	LockFilePath        string          `json:"lockFilePath"`
	LogPath             string          `json:"logPath,omitempty"`
	SpoolDir            string          `json:"spoolDir,omitempty"`
	Checks              []CheckResult   `json:"checks,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

// Event is one message on the event stream. Only the fields relevant to
// Type are set.
type Event struct {
	Type      string       `json:"type"`
	Timestamp string       `json:"timestamp"`
	Pending   *int         `json:"pending,omitempty"`
	Online    *bool        `json:"online,omitempty"`
	Item      *QueueItem   `json:"item,omitempty"`
	Cycle     *CycleResult `json:"cycle,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
