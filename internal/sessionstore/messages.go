package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"

	"github.com/agentcore-ai/agentcore/pkg/apperr"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// AddMessage inserts a message row with no steps. Steps are appended
// afterward via AppendStep/AppendPart as the turn streams.
func (s *Store) AddMessage(ctx context.Context, msg types.Message) error {
	var usage, meta, todoSnapshot sql.NullString
	if msg.Usage != nil {
		encoded, err := marshalJSON(msg.Usage)
		if err != nil {
			return apperr.Wrap(apperr.StorageFailed, "marshal message usage", err)
		}
		usage = sql.NullString{String: encoded, Valid: true}
	}
	if msg.Metadata != nil {
		encoded, err := marshalJSON(msg.Metadata)
		if err != nil {
			return apperr.Wrap(apperr.StorageFailed, "marshal message metadata", err)
		}
		meta = sql.NullString{String: encoded, Valid: true}
	}
	if msg.TodoSnapshot != nil {
		encoded, err := marshalJSON(msg.TodoSnapshot)
		if err != nil {
			return apperr.Wrap(apperr.StorageFailed, "marshal todo snapshot", err)
		}
		todoSnapshot = sql.NullString{String: encoded, Valid: true}
	}

	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, role, status, usage, finish_reason, metadata, todo_snapshot, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.SessionID, msg.Role, msg.Status, usage, msg.FinishReason, meta, todoSnapshot, msg.Timestamp,
		)
		return err
	})
}

// AppendStep inserts the next step for a message. stepIndex must equal the
// current number of steps already recorded (dense, strictly-increasing
// index); any other value is rejected as an invariant violation.
func (s *Store) AppendStep(ctx context.Context, messageID string, stepIndex int, step types.Step) error {
	var usage sql.NullString
	if step.Usage != nil {
		encoded, err := marshalJSON(step.Usage)
		if err != nil {
			return apperr.Wrap(apperr.StorageFailed, "marshal step usage", err)
		}
		usage = sql.NullString{String: encoded, Valid: true}
	}

	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM steps WHERE message_id = ?`, messageID).Scan(&count); err != nil {
			return err
		}
		if count != stepIndex {
			return apperr.New(apperr.InvariantViolated, "step index must be dense and strictly increasing")
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO steps (message_id, step_index, usage, duration) VALUES (?, ?, ?, ?)`,
			messageID, stepIndex, usage, step.Duration); err != nil {
			return err
		}

		for i, part := range step.Parts {
			if err := insertPart(ctx, tx, messageID, stepIndex, i, part); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// AppendPart appends one more part to an already-recorded step, at the
// next dense part index.
func (s *Store) AppendPart(ctx context.Context, messageID string, stepIndex int, part types.Part) error {
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var count int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM step_parts WHERE message_id = ? AND step_index = ?`,
			messageID, stepIndex).Scan(&count); err != nil {
			return err
		}
		if err := insertPart(ctx, tx, messageID, stepIndex, count, part); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func insertPart(ctx context.Context, tx *sql.Tx, messageID string, stepIndex, partIndex int, part types.Part) error {
	payload, err := types.MarshalPart(part)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO step_parts (message_id, step_index, part_index, variant_tag, payload)
		VALUES (?, ?, ?, ?, ?)`,
		messageID, stepIndex, partIndex, part.PartType(), string(payload))
	return err
}

// UpdateMessageStatus transitions a message's status, rejecting illegal
// transitions per types.MessageStatus.CanTransitionTo, and persists the
// usage/finishReason the turn settled on (spec §4.3's
// updateMessageStatus(messageId, status, usage?, finishReason?)). Either may
// be nil/empty, e.g. for the abort path which has no final usage to report.
func (s *Store) UpdateMessageStatus(ctx context.Context, messageID string, next types.MessageStatus, usage *types.TokenUsage, finishReason string) error {
	var usageCol sql.NullString
	if usage != nil {
		encoded, err := marshalJSON(usage)
		if err != nil {
			return apperr.Wrap(apperr.StorageFailed, "marshal message usage", err)
		}
		usageCol = sql.NullString{String: encoded, Valid: true}
	}

	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var current types.MessageStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = ?`, messageID).Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.NotFound, "message not found: "+messageID)
			}
			return err
		}
		if !current.CanTransitionTo(next) {
			return apperr.New(apperr.InvariantViolated, "illegal message status transition")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET status = ?, usage = ?, finish_reason = ? WHERE id = ?`,
			next, usageCol, finishReason, messageID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetMessages loads every message for a session, each with its steps and
// parts populated, in timestamp order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, status, usage, finish_reason, metadata, todo_snapshot, timestamp
		FROM messages WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "query messages", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var msg types.Message
		var usage, meta, todoSnapshot sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Status, &usage, &msg.FinishReason,
			&meta, &todoSnapshot, &msg.Timestamp); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailed, "scan message", err)
		}
		if usage.Valid {
			var u types.TokenUsage
			if err := json.Unmarshal([]byte(usage.String), &u); err != nil {
				return nil, apperr.Wrap(apperr.StorageFailed, "unmarshal message usage", err)
			}
			msg.Usage = &u
		}
		if meta.Valid {
			var m types.MessageMeta
			if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
				return nil, apperr.Wrap(apperr.StorageFailed, "unmarshal message metadata", err)
			}
			msg.Metadata = &m
		}
		if todoSnapshot.Valid {
			if err := json.Unmarshal([]byte(todoSnapshot.String), &msg.TodoSnapshot); err != nil {
				return nil, apperr.Wrap(apperr.StorageFailed, "unmarshal todo snapshot", err)
			}
		}
		messages = append(messages, msg)
	}

	for i := range messages {
		steps, err := s.getSteps(ctx, messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Steps = steps
	}
	return messages, nil
}

func (s *Store) getSteps(ctx context.Context, messageID string) ([]types.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, usage, duration FROM steps WHERE message_id = ? ORDER BY step_index ASC`, messageID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "query steps", err)
	}
	defer rows.Close()

	var steps []types.Step
	for rows.Next() {
		var step types.Step
		var usage sql.NullString
		if err := rows.Scan(&step.StepIndex, &usage, &step.Duration); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailed, "scan step", err)
		}
		if usage.Valid {
			var u types.TokenUsage
			if err := json.Unmarshal([]byte(usage.String), &u); err != nil {
				return nil, apperr.Wrap(apperr.StorageFailed, "unmarshal step usage", err)
			}
			step.Usage = &u
		}
		steps = append(steps, step)
	}

	for i := range steps {
		parts, err := s.getParts(ctx, messageID, steps[i].StepIndex)
		if err != nil {
			return nil, err
		}
		steps[i].Parts = parts
	}
	return steps, nil
}

func (s *Store) getParts(ctx context.Context, messageID string, stepIndex int) ([]types.Part, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM step_parts WHERE message_id = ? AND step_index = ? ORDER BY part_index ASC`,
		messageID, stepIndex)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "query parts", err)
	}
	defer rows.Close()

	var parts []types.Part
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailed, "scan part", err)
		}
		part, err := types.UnmarshalPart([]byte(payload))
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailed, "unmarshal part", err)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// StoreFileContent persists a file blob, keyed by content-derived id.
func (s *Store) StoreFileContent(ctx context.Context, fc types.FileContent) error {
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO file_contents (id, media_type, size, content_blob) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			fc.ID, fc.MediaType, fc.Size, fc.Content)
		return err
	})
}

// GetFileContent loads a previously stored file blob by id.
func (s *Store) GetFileContent(ctx context.Context, id string) (*types.FileContent, error) {
	var fc types.FileContent
	fc.ID = id
	row := s.db.QueryRowContext(ctx, `SELECT media_type, size, content_blob FROM file_contents WHERE id = ?`, id)
	if err := row.Scan(&fc.MediaType, &fc.Size, &fc.Content); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "file content not found: "+id)
		}
		return nil, apperr.Wrap(apperr.StorageFailed, "scan file content", err)
	}
	return &fc, nil
}

// UpdateTodos atomically replaces a session's todo list and advances
// nextTodoId monotonically to cover any new ids introduced by todos.
func (s *Store) UpdateTodos(ctx context.Context, sessionID string, todos []types.Todo) error {
	return withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE session_id = ?`, sessionID); err != nil {
			return err
		}

		maxID := 0
		for _, todo := range todos {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO todos (session_id, id, content, active_form, status, ordering)
				VALUES (?, ?, ?, ?, ?, ?)`,
				sessionID, todo.ID, todo.Content, todo.ActiveForm, todo.Status, todo.Ordering); err != nil {
				return err
			}
			if todo.ID > maxID {
				maxID = todo.ID
			}
		}

		var nextTodoID int
		if err := tx.QueryRowContext(ctx, `SELECT next_todo_id FROM sessions WHERE id = ?`, sessionID).Scan(&nextTodoID); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.NotFound, "session not found: "+sessionID)
			}
			return err
		}
		if maxID+1 > nextTodoID {
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET next_todo_id = ? WHERE id = ?`, maxID+1, sessionID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetTodos returns a session's todos ordered by their ordering field.
func (s *Store) GetTodos(ctx context.Context, sessionID string) ([]types.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, active_form, status, ordering FROM todos WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "query todos", err)
	}
	defer rows.Close()

	var todos []types.Todo
	for rows.Next() {
		var todo types.Todo
		if err := rows.Scan(&todo.ID, &todo.Content, &todo.ActiveForm, &todo.Status, &todo.Ordering); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailed, "scan todo", err)
		}
		todos = append(todos, todo)
	}
	sort.Slice(todos, func(i, j int) bool { return todos[i].Ordering < todos[j].Ordering })
	return todos, nil
}
