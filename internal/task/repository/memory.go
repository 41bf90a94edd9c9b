package repository

import (
	"context"
	"sync"

	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/task"
)

// MemoryRepository is an in-memory task store. It is the default backend
// when no sqlite path is configured, and the backend used in tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
	order []string // creation order
}

// NewMemoryRepository creates a new in-memory task repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks: make(map[string]*task.Task),
	}
}

// Create implements Repository.
func (r *MemoryRepository) Create(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.ID]; exists {
		return errors.Conflict("task with id '" + t.ID + "' already exists")
	}
	r.tasks[t.ID] = t.Clone()
	r.order = append(r.order, t.ID)
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, errors.NotFound("task", id)
	}
	return t.Clone(), nil
}

// Update implements Repository.
func (r *MemoryRepository) Update(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; !ok {
		return errors.NotFound("task", t.ID)
	}
	r.tasks[t.ID] = t.Clone()
	return nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return errors.NotFound("task", id)
	}
	delete(r.tasks, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListByAssignee implements Repository.
func (r *MemoryRepository) ListByAssignee(ctx context.Context, agentID string) ([]*task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*task.Task, 0)
	for _, id := range r.order {
		t := r.tasks[id]
		if t.AssignedTo == agentID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// ListAll implements Repository.
func (r *MemoryRepository) ListAll(ctx context.Context) ([]*task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*task.Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id].Clone())
	}
	return out, nil
}

// Ping implements Repository. An in-memory store is always reachable.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close implements Repository.
func (r *MemoryRepository) Close() error {
	return nil
}
