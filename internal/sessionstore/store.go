// Package sessionstore implements the Session Store (spec L3): typed CRUD
// for sessions, messages, step-parts, file contents, and todos, enforcing
// the data model's invariants (monotone message status, dense step index,
// monotone next-todo id, cascade delete).
//
// Grounded on the teacher's internal/storage file-per-key JSON idiom, but
// backed by modernc.org/sqlite instead: the spec requires "database busy"
// detection and retry on the Event Log, and this store shares the same
// database file and busy-retry discipline for consistency.
package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "modernc.org/sqlite"

	"github.com/agnivade/levenshtein"

	"github.com/agentcore-ai/agentcore/pkg/apperr"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL DEFAULT '',
	directory TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	enabled_rule_ids TEXT NOT NULL DEFAULT '[]',
	title TEXT NOT NULL DEFAULT '',
	created INTEGER NOT NULL,
	updated INTEGER NOT NULL,
	base_context_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	next_todo_id INTEGER NOT NULL DEFAULT 1,
	flags TEXT NOT NULL DEFAULT '{}',
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	status TEXT NOT NULL,
	usage TEXT,
	finish_reason TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	todo_snapshot TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

CREATE TABLE IF NOT EXISTS steps (
	message_id TEXT NOT NULL,
	step_index INTEGER NOT NULL,
	usage TEXT,
	duration INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (message_id, step_index)
);

CREATE TABLE IF NOT EXISTS step_parts (
	message_id TEXT NOT NULL,
	step_index INTEGER NOT NULL,
	part_index INTEGER NOT NULL,
	variant_tag TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (message_id, step_index, part_index)
);
CREATE INDEX IF NOT EXISTS idx_step_parts_msg ON step_parts(message_id, step_index, part_index);

CREATE TABLE IF NOT EXISTS file_contents (
	id TEXT PRIMARY KEY,
	media_type TEXT NOT NULL,
	size INTEGER NOT NULL,
	content_blob BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS todos (
	session_id TEXT NOT NULL,
	id INTEGER NOT NULL,
	content TEXT NOT NULL,
	active_form TEXT NOT NULL,
	status TEXT NOT NULL,
	ordering INTEGER NOT NULL,
	PRIMARY KEY (session_id, id)
);
`

// Store is the SQLite-backed Session Store.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to the session store database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "open session store database", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.StorageFailed, "create session store schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess types.Session) error {
	ruleIDs, err := marshalJSON(sess.EnabledRuleIDs)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailed, "marshal enabled rule ids", err)
	}
	flags, err := marshalJSON(sess.Flags)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailed, "marshal flags", err)
	}
	meta, err := marshalJSON(sess.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailed, "marshal metadata", err)
	}

	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, project_id, directory, provider, model, agent_id, enabled_rule_ids,
			                       title, created, updated, base_context_tokens, total_tokens, next_todo_id,
			                       flags, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.ProjectID, sess.Directory, sess.ProviderID, sess.ModelID, sess.AgentID, ruleIDs,
			sess.Title, sess.Created, sess.Updated, sess.BaseContextTokens, sess.TotalTokens, sess.NextTodoID,
			flags, meta,
		)
		return err
	})
}

// GetSessionByID loads a session's metadata row. Messages are loaded
// separately via GetMessages to keep the metadata path cheap for
// listing operations.
func (s *Store) GetSessionByID(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, directory, provider, model, agent_id, enabled_rule_ids, title,
		       created, updated, base_context_tokens, total_tokens, next_todo_id, flags, metadata
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "session not found: "+id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "scan session", err)
	}
	return sess, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*types.Session, error) {
	var sess types.Session
	var ruleIDs, flags, meta string
	if err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Directory, &sess.ProviderID, &sess.ModelID,
		&sess.AgentID, &ruleIDs, &sess.Title, &sess.Created, &sess.Updated, &sess.BaseContextTokens,
		&sess.TotalTokens, &sess.NextTodoID, &flags, &meta); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ruleIDs), &sess.EnabledRuleIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(flags), &sess.Flags); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
		return nil, err
	}
	return &sess, nil
}

// SessionPage is a page of session metadata, cursor-paginated on
// (updated, created) descending.
type SessionPage struct {
	Items      []types.Session
	NextCursor *types.Cursor
}

// GetRecentSessionsMetadata returns metadata only (no messages), newest
// first.
func (s *Store) GetRecentSessionsMetadata(ctx context.Context, limit int, cursor *types.Cursor) (SessionPage, error) {
	var rows *sql.Rows
	var err error
	base := `SELECT id, project_id, directory, provider, model, agent_id, enabled_rule_ids, title,
	                created, updated, base_context_tokens, total_tokens, next_todo_id, flags, metadata
	         FROM sessions`
	if cursor == nil {
		rows, err = s.db.QueryContext(ctx, base+` ORDER BY updated DESC, created DESC LIMIT ?`, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, base+` WHERE (updated, created) < (?, ?)
			ORDER BY updated DESC, created DESC LIMIT ?`, cursor.Timestamp, cursor.Sequence, limit+1)
	}
	if err != nil {
		return SessionPage{}, apperr.Wrap(apperr.StorageFailed, "query recent sessions", err)
	}
	defer rows.Close()

	var page SessionPage
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return SessionPage{}, apperr.Wrap(apperr.StorageFailed, "scan recent session", err)
		}
		page.Items = append(page.Items, *sess)
	}
	if len(page.Items) > limit {
		last := page.Items[limit-1]
		page.NextCursor = &types.Cursor{Timestamp: last.Updated, Sequence: last.Created}
		page.Items = page.Items[:limit]
	}
	return page, nil
}

// SearchSessionsMetadata performs a title substring search, supplemented
// with Levenshtein-distance ranking over the substring-matched set.
func (s *Store) SearchSessionsMetadata(ctx context.Context, query string, limit int, cursor *types.Cursor) (SessionPage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, directory, provider, model, agent_id, enabled_rule_ids, title,
		       created, updated, base_context_tokens, total_tokens, next_todo_id, flags, metadata
		FROM sessions WHERE title LIKE ? ORDER BY updated DESC, created DESC LIMIT 500`,
		"%"+query+"%")
	if err != nil {
		return SessionPage{}, apperr.Wrap(apperr.StorageFailed, "search sessions", err)
	}
	defer rows.Close()

	var matches []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return SessionPage{}, apperr.Wrap(apperr.StorageFailed, "scan search session", err)
		}
		matches = append(matches, *sess)
	}

	// Rank by Levenshtein distance to the query for closer-title-first
	// ordering within the substring-matched set (supplements the
	// spec-required substring search; does not replace it).
	for i := range matches {
		for j := i + 1; j < len(matches); j++ {
			di := levenshtein.ComputeDistance(query, matches[i].Title)
			dj := levenshtein.ComputeDistance(query, matches[j].Title)
			if dj < di {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}

	start := 0
	if cursor != nil {
		for i, m := range matches {
			if m.Updated == cursor.Timestamp && m.Created == cursor.Sequence {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	var page SessionPage
	if end < len(matches) {
		page.Items = matches[start:end]
		next := matches[end-1]
		page.NextCursor = &types.Cursor{Timestamp: next.Updated, Sequence: next.Created}
	} else if start < len(matches) {
		page.Items = matches[start:]
	}
	return page, nil
}

// UpdateSessionTitle sets the title field.
func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string, updated int64) error {
	return s.execUpdate(ctx, `UPDATE sessions SET title = ?, updated = ? WHERE id = ?`, title, updated, id)
}

// UpdateSessionModel sets the model field.
func (s *Store) UpdateSessionModel(ctx context.Context, id, modelID string, updated int64) error {
	return s.execUpdate(ctx, `UPDATE sessions SET model = ?, updated = ? WHERE id = ?`, modelID, updated, id)
}

// UpdateSessionProvider sets the provider field.
func (s *Store) UpdateSessionProvider(ctx context.Context, id, providerID string, updated int64) error {
	return s.execUpdate(ctx, `UPDATE sessions SET provider = ?, updated = ? WHERE id = ?`, providerID, updated, id)
}

// UpdateSessionRules replaces the enabled rule id list.
func (s *Store) UpdateSessionRules(ctx context.Context, id string, ruleIDs []string, updated int64) error {
	encoded, err := marshalJSON(ruleIDs)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailed, "marshal rule ids", err)
	}
	return s.execUpdate(ctx, `UPDATE sessions SET enabled_rule_ids = ?, updated = ? WHERE id = ?`, encoded, updated, id)
}

// UpdateSessionMetadata replaces the metadata blob (used by compaction
// lineage updates).
func (s *Store) UpdateSessionMetadata(ctx context.Context, id string, meta types.SessionMetadata, updated int64) error {
	encoded, err := marshalJSON(meta)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailed, "marshal metadata", err)
	}
	return s.execUpdate(ctx, `UPDATE sessions SET metadata = ?, updated = ? WHERE id = ?`, encoded, updated, id)
}

// UpdateSessionFlags merges flagPatch into the session's flags atomically.
func (s *Store) UpdateSessionFlags(ctx context.Context, id string, flagPatch map[string]bool, updated int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailed, "begin flag update", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT flags FROM sessions WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return apperr.New(apperr.NotFound, "session not found: "+id)
		}
		return apperr.Wrap(apperr.StorageFailed, "read flags", err)
	}

	flags := map[string]bool{}
	if err := json.Unmarshal([]byte(current), &flags); err != nil {
		return apperr.Wrap(apperr.StorageFailed, "unmarshal flags", err)
	}
	for k, v := range flagPatch {
		flags[k] = v
	}
	encoded, err := marshalJSON(flags)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailed, "marshal flags", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET flags = ?, updated = ? WHERE id = ?`, encoded, updated, id); err != nil {
		return apperr.Wrap(apperr.StorageFailed, "update flags", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.StorageFailed, "commit flag update", err)
	}
	return nil
}

// UpdateSessionTokens sets base/total token counters.
func (s *Store) UpdateSessionTokens(ctx context.Context, id string, baseContextTokens, totalTokens int) error {
	return s.execUpdate(ctx, `UPDATE sessions SET base_context_tokens = ?, total_tokens = ? WHERE id = ?`,
		baseContextTokens, totalTokens, id)
}

// DeleteSession removes a session and cascades to its messages, steps,
// parts, and todos.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailed, "begin delete", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM messages WHERE session_id = ?`, id)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailed, "list messages for delete", err)
	}
	var messageIDs []string
	for rows.Next() {
		var mid string
		if err := rows.Scan(&mid); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.StorageFailed, "scan message id", err)
		}
		messageIDs = append(messageIDs, mid)
	}
	rows.Close()

	for _, mid := range messageIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM step_parts WHERE message_id = ?`, mid); err != nil {
			return apperr.Wrap(apperr.StorageFailed, "cascade delete parts", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE message_id = ?`, mid); err != nil {
			return apperr.Wrap(apperr.StorageFailed, "cascade delete steps", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return apperr.Wrap(apperr.StorageFailed, "cascade delete messages", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE session_id = ?`, id); err != nil {
		return apperr.Wrap(apperr.StorageFailed, "cascade delete todos", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return apperr.Wrap(apperr.StorageFailed, "delete session", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.StorageFailed, "commit delete", err)
	}
	return nil
}

// GetSessionCount returns the total number of sessions.
func (s *Store) GetSessionCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.StorageFailed, "count sessions", err)
	}
	return n, nil
}

// GetLastSession returns the most recently updated session, or nil.
func (s *Store) GetLastSession(ctx context.Context) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, directory, provider, model, agent_id, enabled_rule_ids, title,
		       created, updated, base_context_tokens, total_tokens, next_todo_id, flags, metadata
		FROM sessions ORDER BY updated DESC LIMIT 1`)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "scan last session", err)
	}
	return sess, nil
}

func (s *Store) execUpdate(ctx context.Context, query string, args ...any) error {
	var affected int64
	err := withBusyRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.New(apperr.NotFound, "session not found")
	}
	return nil
}
