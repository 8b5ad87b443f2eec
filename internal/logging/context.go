package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldItemID is the standardized structured logging key for queue item identifiers.
	FieldItemID = "item_id"
	// FieldItemType is the standardized structured logging key for queue item action types.
	FieldItemType = "item_type"
	// FieldCycleID is the standardized structured logging key for sync cycle identifiers.
	FieldCycleID = "cycle_id"
	// FieldTrigger is the standardized structured logging key for the reason a cycle ran.
	FieldTrigger = "trigger"
	// FieldOutcome is the standardized structured logging key for cycle outcomes.
	FieldOutcome = "outcome"
	// FieldBatchSize is the standardized structured logging key for items in a submitted batch.
	FieldBatchSize = "batch_size"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. "delivery_failed").
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact says what a warning means for queued work.
	FieldImpact = "impact"
)

type contextKey int

const (
	cycleIDKey contextKey = iota
	triggerKey
	requestIDKey
)

// WithCycle tags ctx with a sync cycle identifier and the trigger that started it.
func WithCycle(ctx context.Context, cycleID, trigger string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, cycleIDKey, cycleID)
	return context.WithValue(ctx, triggerKey, trigger)
}

// CycleIDFromContext returns the sync cycle identifier stored on ctx.
func CycleIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(cycleIDKey).(string)
	return id, ok && id != ""
}

// WithRequestID tags ctx with an API request correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := CycleIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCycleID, id))
	}
	if trigger, ok := ctx.Value(triggerKey).(string); ok && trigger != "" {
		fields = append(fields, slog.String(FieldTrigger, trigger))
	}
	if rid, ok := ctx.Value(requestIDKey).(string); ok && rid != "" {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
