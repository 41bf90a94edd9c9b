package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
)

// AgentDirectory is the slice of the agent registry the manager needs:
// assignment targets must be registered agents.
type AgentDirectory interface {
	Exists(agentID string) bool
}

// Manager is the authoritative task store. It layers lifecycle validation,
// dependency checks and per-task serialization on top of a Repository.
type Manager struct {
	repo   Repository
	agents AgentDirectory
	logger *logger.Logger

	// locks serializes read-modify-write cycles per task. Multi-task
	// operations acquire locks in ascending id order to avoid deadlock.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewManager creates a task manager backed by the given repository.
func NewManager(repo Repository, agents AgentDirectory, log *logger.Logger) *Manager {
	return &Manager{
		repo:   repo,
		agents: agents,
		logger: log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// CreateParams carries the caller-supplied fields for a new task.
type CreateParams struct {
	Title        string
	Description  string
	AssignedTo   string
	CreatedBy    string
	Priority     int // 0 means default (3)
	DueDate      *time.Time
	Dependencies []string
	Metadata     map[string]any
}

// Create validates and persists a new task. The task starts pending with
// zero progress. All dependencies must already exist, and adding the new
// task must keep the dependency graph acyclic.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Task, error) {
	if p.Title == "" {
		return nil, errors.ValidationError("title", "must not be empty")
	}
	if p.AssignedTo == "" {
		return nil, errors.ValidationError("assigned_to", "must not be empty")
	}
	if !m.agents.Exists(p.AssignedTo) {
		return nil, errors.Conflict(fmt.Sprintf("cannot assign task to unknown agent '%s'", p.AssignedTo))
	}
	if p.Priority == 0 {
		p.Priority = 3
	}
	if p.Priority < 1 || p.Priority > 5 {
		return nil, errors.ValidationError("priority", "must be between 1 and 5")
	}

	id := uuid.New().String()
	if err := m.checkDependencies(ctx, id, p.Dependencies); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &Task{
		ID:           id,
		Title:        p.Title,
		Description:  p.Description,
		AssignedTo:   p.AssignedTo,
		CreatedBy:    p.CreatedBy,
		Priority:     p.Priority,
		Status:       StatusPending,
		Progress:     0,
		CreatedAt:    now,
		UpdatedAt:    now,
		DueDate:      p.DueDate,
		Dependencies: append([]string(nil), p.Dependencies...),
		Metadata:     p.Metadata,
	}
	if err := m.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	m.logger.Info("created task",
		zap.String("task_id", t.ID),
		zap.String("assigned_to", t.AssignedTo),
		zap.Int("priority", t.Priority))
	return t.Clone(), nil
}

// checkDependencies verifies every dependency exists and that the graph
// stays acyclic with newID depending on deps. New tasks cannot be depended
// on yet, so a cycle can only pass through an existing path back to a dep.
func (m *Manager) checkDependencies(ctx context.Context, newID string, deps []string) error {
	if len(deps) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		if dep == newID {
			return errors.Conflict("task cannot depend on itself")
		}
		if seen[dep] {
			return errors.ValidationError("dependencies", fmt.Sprintf("duplicate dependency '%s'", dep))
		}
		seen[dep] = true
		if _, err := m.repo.Get(ctx, dep); err != nil {
			if errors.IsNotFound(err) {
				return errors.Conflict(fmt.Sprintf("dependency '%s' does not exist", dep))
			}
			return err
		}
	}

	// Walk the existing graph from each dependency; reaching newID would
	// mean a cycle. Guard against corrupt stores with a visited set.
	visited := make(map[string]bool)
	var walk func(id string) error
	walk = func(id string) error {
		if id == newID {
			return errors.Conflict("dependency cycle detected")
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		t, err := m.repo.Get(ctx, id)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil
			}
			return err
		}
		for _, next := range t.Dependencies {
			if err := walk(next); err != nil {
				return err
			}
		}
		return nil
	}
	for _, dep := range deps {
		if err := walk(dep); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the task.
func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	return m.repo.Get(ctx, id)
}

// UpdateStatus transitions a task through its lifecycle. Invalid transitions
// are conflicts. Moving out of pending or blocked into in_progress requires
// every dependency to be completed. Completing a task forces progress to 1
// and stamps completed_at. A non-empty note is recorded in the same write as
// the transition.
func (m *Manager) UpdateStatus(ctx context.Context, id string, next Status, progress *float64, note string) (*Task, error) {
	unlock := m.lock(id)
	defer unlock()

	t, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanTransition(next) {
		return nil, errors.Conflict(fmt.Sprintf("invalid status transition %s -> %s for task %s", t.Status, next, id))
	}
	if next == StatusInProgress && t.Status != StatusInProgress {
		if unmet, err := m.unmetDependency(ctx, t); err != nil {
			return nil, err
		} else if unmet != "" {
			return nil, errors.Conflict(fmt.Sprintf("cannot start task %s: dependency %s is not completed", id, unmet))
		}
	}

	prev := t.Status
	t.Status = next
	if progress != nil {
		t.Progress = clampProgress(*progress)
	}
	switch next {
	case StatusCompleted:
		t.Progress = 1
		now := time.Now().UTC()
		t.CompletedAt = &now
	case StatusPending:
		t.Progress = 0
	}
	if note != "" {
		t.Notes = append(t.Notes, Note{Content: note, Timestamp: time.Now().UTC()})
	}
	t.UpdatedAt = time.Now().UTC()

	if err := m.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	m.logger.Info("task status changed",
		zap.String("task_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
	return t.Clone(), nil
}

// unmetDependency returns the id of the first dependency that is not
// completed, or "" when all are done. Dependencies deleted since creation
// are treated as satisfied.
func (m *Manager) unmetDependency(ctx context.Context, t *Task) (string, error) {
	for _, dep := range t.Dependencies {
		dt, err := m.repo.Get(ctx, dep)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return "", err
		}
		if dt.Status != StatusCompleted {
			return dep, nil
		}
	}
	return "", nil
}

// UpdateProgress sets the task's progress, clamped to [0, 1]. Progress on a
// terminal task is frozen.
func (m *Manager) UpdateProgress(ctx context.Context, id string, progress float64) (*Task, error) {
	unlock := m.lock(id)
	defer unlock()

	t, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, errors.Conflict(fmt.Sprintf("cannot update progress of %s task %s", t.Status, id))
	}
	t.Progress = clampProgress(progress)
	t.UpdatedAt = time.Now().UTC()
	if err := m.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Reassign moves a task to another agent and records the handoff in the
// task's notes.
func (m *Manager) Reassign(ctx context.Context, id, newAgentID string) (*Task, error) {
	if !m.agents.Exists(newAgentID) {
		return nil, errors.Conflict(fmt.Sprintf("cannot reassign task to unknown agent '%s'", newAgentID))
	}

	unlock := m.lock(id)
	defer unlock()

	t, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, errors.Conflict(fmt.Sprintf("cannot reassign %s task %s", t.Status, id))
	}
	if t.AssignedTo == newAgentID {
		return t.Clone(), nil
	}

	prev := t.AssignedTo
	t.AssignedTo = newAgentID
	t.Notes = append(t.Notes, Note{
		Content:   fmt.Sprintf("Reassigned from %s to %s", prev, newAgentID),
		Timestamp: time.Now().UTC(),
	})
	t.UpdatedAt = time.Now().UTC()

	if err := m.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	m.logger.Info("reassigned task",
		zap.String("task_id", id),
		zap.String("from", prev),
		zap.String("to", newAgentID))
	return t.Clone(), nil
}

// AddNote appends a note to the task's audit trail.
func (m *Manager) AddNote(ctx context.Context, id, content string) (*Task, error) {
	if content == "" {
		return nil, errors.ValidationError("note", "must not be empty")
	}

	unlock := m.lock(id)
	defer unlock()

	t, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Notes = append(t.Notes, Note{Content: content, Timestamp: time.Now().UTC()})
	t.UpdatedAt = time.Now().UTC()
	if err := m.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// TasksForAgent returns the tasks assigned to an agent in creation order,
// optionally narrowed to the given statuses.
func (m *Manager) TasksForAgent(ctx context.Context, agentID string, statusFilter ...Status) ([]*Task, error) {
	tasks, err := m.repo.ListByAssignee(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return filterByStatus(tasks, statusFilter), nil
}

// AllTasks returns every task in creation order, optionally narrowed to the
// given statuses.
func (m *Manager) AllTasks(ctx context.Context, statusFilter ...Status) ([]*Task, error) {
	tasks, err := m.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterByStatus(tasks, statusFilter), nil
}

func filterByStatus(tasks []*Task, statuses []Status) []*Task {
	if len(statuses) == 0 {
		return tasks
	}
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Delete removes a task. A task that other tasks depend on cannot be
// deleted.
func (m *Manager) Delete(ctx context.Context, id string) error {
	all, err := m.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	var dependents []string
	for _, t := range all {
		for _, dep := range t.Dependencies {
			if dep == id {
				dependents = append(dependents, t.ID)
			}
		}
	}
	if len(dependents) > 0 {
		sort.Strings(dependents)
		return errors.Conflict(fmt.Sprintf("task %s has dependents: %v", id, dependents))
	}

	unlock := m.lock(id)
	defer unlock()
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("deleted task", zap.String("task_id", id))
	return nil
}

// Health reports whether the backing task store is reachable.
func (m *Manager) Health(ctx context.Context) error {
	return m.repo.Ping(ctx)
}

// lock acquires the per-task mutex and returns its release func.
func (m *Manager) lock(id string) func() {
	m.lockMu.Lock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	m.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}
