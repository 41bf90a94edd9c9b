// Package task provides the authoritative task lifecycle store.
package task

import (
	"time"
)

// Status represents a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// validTransitions encodes the lifecycle state machine. Cancellation is
// allowed from any non-terminal state so an in-flight request can be
// cancelled by the coordinator.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusBlocked, StatusFailed, StatusCancelled},
	StatusBlocked:    {StatusInProgress, StatusCancelled},
}

// IsTerminal reports whether a status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a valid lifecycle
// step. A no-op transition (s == next) is always allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked, StatusFailed, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// Note is one append-only audit trail entry on a task.
type Note struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is a tracked unit of work with lifecycle, assignment and audit trail.
type Task struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	AssignedTo   string         `json:"assigned_to"`
	CreatedBy    string         `json:"created_by"`
	Priority     int            `json:"priority"` // 1..5, 5 highest
	Status       Status         `json:"status"`
	Progress     float64        `json:"progress"` // clamped to [0, 1]
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DueDate      *time.Time     `json:"due_date,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Notes        []Note         `json:"notes,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with the
// store.
func (t *Task) Clone() *Task {
	cp := *t
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	if t.DueDate != nil {
		ts := *t.DueDate
		cp.DueDate = &ts
	}
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	cp.Notes = append([]Note(nil), t.Notes...)
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
