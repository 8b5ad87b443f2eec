package queue

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const itemColumns = "id, type, payload, created_at"

var nullPayload = json.RawMessage("null")

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id        int64
		itemType  string
		payload   sql.NullString
		createdMs int64
	)
	if err := scanner.Scan(&id, &itemType, &payload, &createdMs); err != nil {
		return nil, err
	}
	item := &Item{
		ID:        id,
		Type:      itemType,
		Payload:   nullPayload,
		CreatedAt: fromMillis(createdMs),
	}
	if payload.Valid && payload.String != "" {
		item.Payload = json.RawMessage(payload.String)
	}
	return item, nil
}

// normalizeItem trims the type and validates the payload. An empty payload is
// stored as JSON null.
func normalizeItem(itemType string, payload json.RawMessage) (string, json.RawMessage, error) {
	itemType = strings.TrimSpace(itemType)
	if itemType == "" {
		return "", nil, fmt.Errorf("%w: type is required", ErrInvalidItem)
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return itemType, nullPayload, nil
	}
	if !json.Valid(trimmed) {
		return "", nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidItem)
	}
	return itemType, json.RawMessage(trimmed), nil
}
