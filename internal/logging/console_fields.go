package logging

import (
	"log/slog"
	"strings"
)

type infoField struct {
	label string
	value string
}

const errorValueLimit = 200

// Keys listed here are printed first, in this order.
var infoHighlightKeys = []string{
	FieldEventType,
	FieldOutcome,
	FieldTrigger,
	FieldBatchSize,
	FieldItemType,
	"pending",
	"restored",
	"processed",
	"status_code",
	"error",
	FieldErrorHint,
	FieldImpact,
	"elapsed",
}

// selectInfoFields returns formatted fields and a count of entries hidden at
// info level. Debug records show everything.
func selectInfoFields(attrs []kv, includeDebug bool) ([]infoField, int) {
	if len(attrs) == 0 {
		return nil, 0
	}
	used := make([]bool, len(attrs))
	result := make([]infoField, 0, len(attrs))
	hidden := 0

	take := func(idx int) {
		used[idx] = true
		attr := attrs[idx]
		if skipInfoKey(attr.key) {
			return
		}
		if !includeDebug && isDebugOnlyKey(attr.key) {
			hidden++
			return
		}
		result = append(result, infoField{label: displayLabel(attr.key), value: formatValueForKey(attr.key, attr.value)})
	}

	for _, key := range infoHighlightKeys {
		for idx, attr := range attrs {
			if !used[idx] && attr.key == key {
				take(idx)
				break
			}
		}
	}
	for idx := range attrs {
		if !used[idx] {
			take(idx)
		}
	}
	return result, hidden
}

func formatValueForKey(key string, v slog.Value) string {
	v = v.Resolve()
	if v.Kind() == slog.KindBool {
		if v.Bool() {
			return "yes"
		}
		return "no"
	}
	value := formatValue(v)
	if key == "error" {
		value = truncateValue(value, errorValueLimit)
	}
	return value
}

// Subject fields are already rendered in the header.
func skipInfoKey(key string) bool {
	switch key {
	case "", FieldComponent, FieldCycleID, FieldItemID:
		return true
	default:
		return false
	}
}

func isDebugOnlyKey(key string) bool {
	switch key {
	case FieldCorrelationID, "source_id", "batch_id", "url", "path":
		return true
	}
	return strings.HasSuffix(key, "_path")
}

func displayLabel(key string) string {
	key = strings.ReplaceAll(key, ".", " ")
	key = strings.ReplaceAll(key, "_", " ")
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
