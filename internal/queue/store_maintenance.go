package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sourceIDKey = "source_id"

// SourceID returns the persistent identifier of this queue, generating it on
// first use. The sync endpoint uses it to deduplicate retried batches.
func (s *Store) SourceID(ctx context.Context) (string, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	if s.sourceID != "" {
		return s.sourceID, nil
	}
	ctx = ensureContext(ctx)
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO store_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		sourceIDKey, uuid.NewString(),
	); err != nil {
		return "", storageErr("source id", err)
	}
	var id string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, sourceIDKey).Scan(&id); err != nil {
		return "", storageErr("source id", err)
	}
	s.sourceID = id
	return id, nil
}

// Stats summarizes the pending set.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{ByType: make(map[string]int)}

	var oldest, newest sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1), MIN(created_at), MAX(created_at) FROM queue`)
	if err := row.Scan(&stats.Pending, &oldest, &newest); err != nil {
		return Stats{}, storageErr("stats", err)
	}
	if oldest.Valid {
		stats.Oldest = fromMillis(oldest.Int64)
	}
	if newest.Valid {
		stats.Newest = fromMillis(newest.Int64)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(1) FROM queue GROUP BY type`)
	if err != nil {
		return Stats{}, storageErr("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var itemType string
		var count int
		if err := rows.Scan(&itemType, &count); err != nil {
			return Stats{}, storageErr("stats", err)
		}
		stats.ByType[itemType] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, storageErr("stats", err)
	}
	return stats, nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	columns, err := tableColumns(connCtx, s.db, "queue")
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.TableExists = len(columns) > 0
	health.ColumnsPresent = columns

	present := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		present[col] = struct{}{}
	}
	for _, col := range strings.Split(itemColumns, ", ") {
		if _, ok := present[col]; !ok {
			health.MissingColumns = append(health.MissingColumns, col)
		}
	}

	if health.TableExists {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM queue").Scan(&health.TotalItems); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count queue items: %w", err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info: %w", err)
	}
	return columns, nil
}
