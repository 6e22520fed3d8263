package dsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ============================================================================
// SQLite Snapshot Cache
// ============================================================================

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_snapshots (
    conv_id       TEXT PRIMARY KEY,
    payload       TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL
);
`

// SQLiteCache persists conversation snapshots in a local sqlite database,
// one row per conversation with a JSON payload. Suited to desktop clients
// that want history to survive restarts.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (and migrates) the cache database at path. Use
// ":memory:" for an ephemeral cache.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open snapshot cache")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate snapshot cache")
	}
	return &SQLiteCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func (c *SQLiteCache) Load(ctx context.Context, conversationID string) ([]Message, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM conversation_snapshots WHERE conv_id = ?`, conversationID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "snapshot query")
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, errors.Wrap(err, "decode cached snapshot")
	}
	return msgs, nil
}

func (c *SQLiteCache) Store(ctx context.Context, conversationID string, msgs []Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	_, err = c.db.ExecContext(ctx, `
INSERT INTO conversation_snapshots (conv_id, payload, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(conv_id) DO UPDATE SET
    payload = excluded.payload,
    updated_at_ms = excluded.updated_at_ms
`, conversationID, string(raw), time.Now().UnixMilli())
	return errors.Wrap(err, "snapshot upsert")
}

var _ Cache = (*SQLiteCache)(nil)
