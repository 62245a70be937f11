package rpc

import (
	"context"

	"github.com/agentcore-ai/agentcore/pkg/types"
)

// todoRouter implements the todo.* procedures (spec §4.11).
type todoRouter struct{ r *Router }

// UpdateInput is todo.update's input: an atomic replacement of a session's
// full todo list. NextTodoID is accepted for wire compatibility with spec
// §4.11's procedure signature but is not applied directly: the Session
// Store derives and persists the session's next_todo_id from the highest
// todo ID in the replacement list (sessionstore.Store.UpdateTodos), which
// is the same invariant this field exists to express.
type UpdateInput struct {
	SessionID  string
	Todos      []types.Todo
	NextTodoID int
}

// Update is a mutation.
func (t *todoRouter) Update(ctx context.Context, in UpdateInput) error {
	return t.r.store.UpdateTodos(ctx, in.SessionID, in.Todos)
}
