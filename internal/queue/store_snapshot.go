package queue

import (
	"context"
	"database/sql"
	"fmt"
)

// SnapshotAndClear atomically returns every pending item in insertion order
// and removes exactly those items. On error nothing is removed.
//
// Concurrent enqueues either land in the snapshot or remain queued: the read
// and the delete run under one immediate transaction, and the delete is
// bounded by the highest id the snapshot saw.
func (s *Store) SnapshotAndClear(ctx context.Context) ([]Item, error) {
	ctx = ensureContext(ctx)
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()

	var snapshot []Item
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		snapshot = nil
		rows, err := tx.QueryContext(ctx, `SELECT `+itemColumns+` FROM queue ORDER BY id`)
		if err != nil {
			return fmt.Errorf("read pending: %w", err)
		}
		items, err := collectItems(rows)
		rows.Close()
		if err != nil {
			return fmt.Errorf("read pending: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		maxID := items[len(items)-1].ID
		res, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE id <= ?`, maxID)
		if err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}
		if removed, err := res.RowsAffected(); err == nil && removed != int64(len(items)) {
			return fmt.Errorf("clear pending: removed %d rows, snapshot has %d", removed, len(items))
		}
		snapshot = items
		return nil
	})
	if err != nil {
		return nil, storageErr("snapshot and clear", err)
	}
	return snapshot, nil
}

// Restore re-inserts items removed by SnapshotAndClear that were not
// delivered. Original ids, types, payloads and timestamps are kept, so the
// restored items sort ahead of anything enqueued since the snapshot. Items
// already present are left untouched, which makes Restore safe to repeat.
func (s *Store) Restore(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO queue (id, type, payload, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare restore: %w", err)
		}
		defer stmt.Close()

		for _, item := range items {
			payload := item.Payload
			if len(payload) == 0 {
				payload = nullPayload
			}
			if _, err := stmt.ExecContext(ctx, item.ID, item.Type, string(payload), toMillis(item.CreatedAt)); err != nil {
				return fmt.Errorf("restore item %d: %w", item.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("restore", err)
	}
	return nil
}
