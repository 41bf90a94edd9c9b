package task

import "context"

// Repository defines the interface for task storage operations. All
// implementations must be safe for concurrent use; lifecycle validation
// lives in the manager, not here.
//
// It is declared here (rather than in the repository subpackage, which
// re-exports it as an alias) so that implementations can import the task
// models without creating an import cycle.
type Repository interface {
	// Create persists a new task. Fails with a conflict if the id exists.
	Create(ctx context.Context, t *Task) error

	// Get returns a copy of the task with the given id.
	Get(ctx context.Context, id string) (*Task, error)

	// Update overwrites an existing task.
	Update(ctx context.Context, t *Task) error

	// Delete removes a task.
	Delete(ctx context.Context, id string) error

	// ListByAssignee returns copies of all tasks assigned to an agent,
	// creation order.
	ListByAssignee(ctx context.Context, agentID string) ([]*Task, error)

	// ListAll returns copies of every task, creation order.
	ListAll(ctx context.Context) ([]*Task, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the repository.
	Close() error
}
