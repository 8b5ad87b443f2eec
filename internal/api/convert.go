package api

import (
	"encoding/json"
	"time"

	"outbox/internal/dispatch"
	"outbox/internal/queue"
)

// FormatTime renders t in the API timestamp format, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromQueueItem converts a queue record to its API representation.
func FromQueueItem(item queue.Item) QueueItem {
	payload := item.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return QueueItem{
		ID:        item.ID,
		Type:      item.Type,
		Payload:   payload,
		CreatedAt: FormatTime(item.CreatedAt),
	}
}

// FromQueueItems converts queue records into API DTOs, preserving order.
func FromQueueItems(items []queue.Item) []QueueItem {
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out
}

// FromStats converts queue statistics.
func FromStats(stats queue.Stats) QueueStatsResponse {
	byType := stats.ByType
	if byType == nil {
		byType = map[string]int{}
	}
	return QueueStatsResponse{
		Pending: stats.Pending,
		Oldest:  FormatTime(stats.Oldest),
		Newest:  FormatTime(stats.Newest),
		ByType:  byType,
	}
}

// FromCycleResult converts a dispatcher result.
func FromCycleResult(result dispatch.Result) CycleResult {
	dto := CycleResult{
		CycleID:    result.CycleID,
		Trigger:    result.Trigger,
		Outcome:    string(result.Outcome),
		Submitted:  result.Submitted,
		Delivered:  result.Delivered,
		Restored:   result.Restored,
		Stranded:   result.Stranded,
		StartedAt:  FormatTime(result.StartedAt),
		FinishedAt: FormatTime(result.FinishedAt),
		DurationMs: result.Duration().Milliseconds(),
		Error:      result.Error,
	}
	if result.Err != nil {
		dto.ErrorKind = queue.ErrorKind(result.Err)
		if dto.Error == "" {
			dto.Error = result.Err.Error()
		}
	}
	return dto
}

// ToQueueItem converts an API item back to a queue record. Used by clients
// that fall back between the daemon and the local store.
func ToQueueItem(dto QueueItem) queue.Item {
	return queue.Item{
		ID:        dto.ID,
		Type:      dto.Type,
		Payload:   dto.Payload,
		CreatedAt: ParseQueueTime(dto.CreatedAt),
	}
}
