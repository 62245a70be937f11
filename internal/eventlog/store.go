// Package eventlog implements the durable, append-only Event Log (spec L1):
// a SQLite-backed sequence of events keyed by (channel, timestamp,
// sequence), supporting range reads, tail reads, and busy-retry on write.
package eventlog

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/agentcore-ai/agentcore/pkg/apperr"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	channel    TEXT NOT NULL,
	type       TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	sequence   INTEGER NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_channel_order ON events(channel, timestamp, sequence);
`

// Store is the durable Event Log, backed by a single SQLite database file
// (or ":memory:" for tests).
type Store struct {
	db *sql.DB
}

// Open creates or attaches to the event log database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "open event log database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers across connections
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.StorageFailed, "create event log schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save appends one event, retrying transient "database busy" conditions
// with exponential backoff (base 50ms, cap 5 attempts). Save is idempotent
// on retry: the event's id is its primary key, so a retried insert that
// actually landed on a previous attempt fails the uniqueness check and is
// treated as success.
func (s *Store) Save(ctx context.Context, event types.Event) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO events (id, channel, type, timestamp, sequence, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			event.ID, event.Channel, event.Type, event.Timestamp, event.Sequence, event.Payload, event.Timestamp,
		)
		return err
	})
}

// ReadFrom returns up to limit events on channel in ascending
// (timestamp, sequence) order, strictly greater than cursor (or from the
// beginning if cursor is nil).
func (s *Store) ReadFrom(ctx context.Context, channel string, cursor *types.Cursor, limit int) ([]types.Event, error) {
	var rows *sql.Rows
	var err error
	if cursor == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, channel, type, timestamp, sequence, payload FROM events
			 WHERE channel = ? ORDER BY timestamp ASC, sequence ASC LIMIT ?`,
			channel, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, channel, type, timestamp, sequence, payload FROM events
			 WHERE channel = ? AND (timestamp, sequence) > (?, ?)
			 ORDER BY timestamp ASC, sequence ASC LIMIT ?`,
			channel, cursor.Timestamp, cursor.Sequence, limit)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "read event log range", err)
	}
	return scanEvents(rows)
}

// ReadLatest returns the last n events on channel, in ascending order.
func (s *Store) ReadLatest(ctx context.Context, channel string, n int) ([]types.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, type, timestamp, sequence, payload FROM (
			SELECT id, channel, type, timestamp, sequence, payload FROM events
			WHERE channel = ? ORDER BY timestamp DESC, sequence DESC LIMIT ?
		 ) ORDER BY timestamp ASC, sequence ASC`,
		channel, n)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "read event log tail", err)
	}
	return scanEvents(rows)
}

// ReadRange returns events on channel within the closed (timestamp,
// sequence) interval [start, end].
func (s *Store) ReadRange(ctx context.Context, channel string, start, end types.Cursor, limit int) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, type, timestamp, sequence, payload FROM events
		 WHERE channel = ? AND (timestamp, sequence) >= (?, ?) AND (timestamp, sequence) <= (?, ?)
		 ORDER BY timestamp ASC, sequence ASC LIMIT ?`,
		channel, start.Timestamp, start.Sequence, end.Timestamp, end.Sequence, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "read event log interval", err)
	}
	return scanEvents(rows)
}

// Cleanup drops all events older than beforeTimestamp across every
// channel, returning the number of rows removed.
func (s *Store) Cleanup(ctx context.Context, beforeTimestamp int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, beforeTimestamp)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageFailed, "cleanup event log", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CleanupChannel retains only the most recent keepLast events on channel.
func (s *Store) CleanupChannel(ctx context.Context, channel string, keepLast int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE channel = ? AND id NOT IN (
			SELECT id FROM events WHERE channel = ? ORDER BY timestamp DESC, sequence DESC LIMIT ?
		 )`, channel, channel, keepLast)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageFailed, "cleanup channel", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ChannelInfo summarizes a channel's extent.
type ChannelInfo struct {
	Length         int64
	FirstID        string
	LastID         string
	FirstTimestamp int64
	LastTimestamp  int64
}

// Info returns summary statistics for channel.
func (s *Store) Info(ctx context.Context, channel string) (ChannelInfo, error) {
	var info ChannelInfo
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(MIN(id) FILTER (WHERE timestamp = (SELECT MIN(timestamp) FROM events WHERE channel = ?)), ''),
		        COALESCE(MAX(id) FILTER (WHERE timestamp = (SELECT MAX(timestamp) FROM events WHERE channel = ?)), ''),
		        COALESCE(MIN(timestamp), 0),
		        COALESCE(MAX(timestamp), 0)
		 FROM events WHERE channel = ?`,
		channel, channel, channel)
	if err := row.Scan(&info.Length, &info.FirstID, &info.LastID, &info.FirstTimestamp, &info.LastTimestamp); err != nil {
		return ChannelInfo{}, apperr.Wrap(apperr.StorageFailed, "event log channel info", err)
	}
	return info, nil
}

func scanEvents(rows *sql.Rows) ([]types.Event, error) {
	defer rows.Close()
	var out []types.Event
	for rows.Next() {
		var e types.Event
		if err := rows.Scan(&e.ID, &e.Channel, &e.Type, &e.Timestamp, &e.Sequence, &e.Payload); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailed, "scan event row", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "iterate event rows", err)
	}
	return out, nil
}
