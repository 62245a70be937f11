package types

// TodoStatus is the lifecycle of a session todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Todo belongs to a session. A todo update is an atomic replacement of the
// full list; IDs are unique within a session and assigned from the
// session's monotonically increasing NextTodoID.
type Todo struct {
	ID         int        `json:"id"`
	Content    string     `json:"content"`
	ActiveForm string     `json:"activeForm"`
	Status     TodoStatus `json:"status"`
	Ordering   int        `json:"ordering"`
}
