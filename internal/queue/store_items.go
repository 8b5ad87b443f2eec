package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// Enqueue appends a new action. The returned record carries the assigned id
// and creation time and is durable once Enqueue returns.
func (s *Store) Enqueue(ctx context.Context, itemType string, payload json.RawMessage) (*Item, error) {
	itemType, payload, err := normalizeItem(itemType, payload)
	if err != nil {
		return nil, err
	}
	created := s.now().UTC()

	res, err := s.execWithRetry(ctx,
		`INSERT INTO queue (type, payload, created_at) VALUES (?, ?, ?)`,
		itemType, string(payload), toMillis(created),
	)
	if err != nil {
		return nil, storageErr("enqueue", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storageErr("enqueue", err)
	}
	return &Item{
		ID:        id,
		Type:      itemType,
		Payload:   payload,
		CreatedAt: fromMillis(toMillis(created)),
	}, nil
}

// GetByID fetches a pending item. It returns nil when the item is not queued.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get item", err)
	}
	return item, nil
}

// List returns every pending item in insertion order without removing them.
func (s *Store) List(ctx context.Context) ([]Item, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM queue ORDER BY id`)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, storageErr("list", err)
	}
	return items, nil
}

// Count returns the number of pending items.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM queue`).Scan(&count); err != nil {
		return 0, storageErr("count", err)
	}
	return count, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
