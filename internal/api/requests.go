package api

import (
	"time"

	"github.com/execdesk/execdesk/internal/agent"
	"github.com/execdesk/execdesk/internal/bus"
	"github.com/execdesk/execdesk/internal/coordinator"
	"github.com/execdesk/execdesk/internal/kb"
	"github.com/execdesk/execdesk/internal/task"
)

// ChatRequest submits a user message to the executive team.
type ChatRequest struct {
	Message     string  `json:"message" binding:"required"`
	Role        string  `json:"role,omitempty"`
	UseKB       *bool   `json:"use_kb,omitempty"` // default true
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// ChatAccepted is the submit response.
type ChatAccepted struct {
	MessageID string `json:"message_id"`
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Status    string `json:"status"`
}

// ChatStatus is the poll/cancel response.
type ChatStatus struct {
	MessageID   string     `json:"message_id"`
	Status      string     `json:"status"`
	Response    string     `json:"response,omitempty"`
	Error       string     `json:"error,omitempty"`
	AgentID     string     `json:"agent_id"`
	Role        string     `json:"role"`
	TaskID      string     `json:"task_id"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func chatStatusFromRequest(r *coordinator.PendingRequest) ChatStatus {
	return ChatStatus{
		MessageID:   r.MessageID,
		Status:      string(r.Status),
		Response:    r.ResponseText,
		Error:       r.Error,
		AgentID:     r.AssignedAgentID,
		Role:        string(r.AssignedRole),
		TaskID:      r.TaskID,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
}

// AgentResponse describes one executive agent.
type AgentResponse struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	DisplayName    string    `json:"display_name"`
	Status         string    `json:"status"`
	LastActive     time.Time `json:"last_active"`
	TotalQueries   int       `json:"total_queries"`
	SuccessRate    float64   `json:"success_rate"`
	AverageLatency string    `json:"average_latency"`
}

func agentToResponse(a *agent.Agent) AgentResponse {
	m := a.Metrics()
	rate := 0.0
	if m.TotalQueries > 0 {
		rate = float64(m.SuccessfulQueries) / float64(m.TotalQueries)
	}
	return AgentResponse{
		ID:             a.ID,
		Role:           string(a.Role),
		DisplayName:    a.DisplayName,
		Status:         string(a.Status()),
		LastActive:     a.LastActive(),
		TotalQueries:   m.TotalQueries,
		SuccessRate:    rate,
		AverageLatency: m.AverageLatency().String(),
	}
}

// MessageResponse is one bus message.
type MessageResponse struct {
	ID         string         `json:"id"`
	SenderID   string         `json:"sender_id"`
	Recipients []string       `json:"recipients"`
	Content    string         `json:"content"`
	Kind       string         `json:"kind"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func messageToResponse(m *bus.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		SenderID:   m.SenderID,
		Recipients: m.Recipients,
		Content:    m.Content,
		Kind:       string(m.Kind),
		Metadata:   m.Metadata,
		Timestamp:  m.Timestamp,
	}
}

// MarkReadRequest records a read receipt for an agent.
type MarkReadRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// CreateTaskRequest creates a task directly, outside the chat flow.
type CreateTaskRequest struct {
	Title        string         `json:"title" binding:"required"`
	Description  string         `json:"description,omitempty"`
	AssignedTo   string         `json:"assigned_to" binding:"required"`
	CreatedBy    string         `json:"created_by,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	DueDate      *time.Time     `json:"due_date,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// UpdateTaskStatusRequest transitions a task's lifecycle state. A non-empty
// note is recorded atomically with the transition.
type UpdateTaskStatusRequest struct {
	Status   string   `json:"status" binding:"required"`
	Progress *float64 `json:"progress,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// ReassignTaskRequest moves a task to another agent.
type ReassignTaskRequest struct {
	AssignedTo string `json:"assigned_to" binding:"required"`
}

// AddNoteRequest appends a note to a task.
type AddNoteRequest struct {
	Content string `json:"content" binding:"required"`
}

// TaskResponse is the wire form of a task.
type TaskResponse struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	AssignedTo   string         `json:"assigned_to"`
	CreatedBy    string         `json:"created_by,omitempty"`
	Priority     int            `json:"priority"`
	Status       string         `json:"status"`
	Progress     float64        `json:"progress"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DueDate      *time.Time     `json:"due_date,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Notes        []task.Note    `json:"notes,omitempty"`
}

func taskToResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		Title:        t.Title,
		Description:  t.Description,
		AssignedTo:   t.AssignedTo,
		CreatedBy:    t.CreatedBy,
		Priority:     t.Priority,
		Status:       string(t.Status),
		Progress:     t.Progress,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
		DueDate:      t.DueDate,
		Dependencies: t.Dependencies,
		Metadata:     t.Metadata,
		Notes:        t.Notes,
	}
}

// AddDocumentRequest ingests content into the knowledge base.
type AddDocumentRequest struct {
	SourceType string         `json:"source_type" binding:"required"`
	SourceName string         `json:"source_name" binding:"required"`
	Content    string         `json:"content" binding:"required"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// UpdateDocumentRequest replaces a document's content.
type UpdateDocumentRequest struct {
	Content string `json:"content" binding:"required"`
}

// RollbackRequest restores a prior document version.
type RollbackRequest struct {
	Version int `json:"version" binding:"required"`
}

// DocumentResponse is the wire form of a document. Content is omitted from
// list responses.
type DocumentResponse struct {
	ID         string         `json:"id"`
	SourceType string         `json:"source_type"`
	SourceName string         `json:"source_name"`
	Content    string         `json:"content,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Version    int            `json:"version"`
	Versions   []int          `json:"available_versions,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func documentToResponse(d *kb.Document, includeContent bool) DocumentResponse {
	resp := DocumentResponse{
		ID:         d.ID,
		SourceType: string(d.SourceType),
		SourceName: d.SourceName,
		Metadata:   d.Metadata,
		Version:    d.Version,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	if includeContent {
		resp.Content = d.Content
	}
	for _, v := range d.PreviousVersions {
		resp.Versions = append(resp.Versions, v.Version)
	}
	return resp
}

// SearchRequest runs a hybrid retrieval query.
type SearchRequest struct {
	Query          string   `json:"query" binding:"required"`
	Limit          int      `json:"limit,omitempty"`
	SemanticWeight *float64 `json:"semantic_weight,omitempty"` // default 0.7
	KeywordWeight  *float64 `json:"keyword_weight,omitempty"`  // default 0.3
	DocumentID     string   `json:"document_id,omitempty"`
}

// SearchResponse wraps ranked retrieval hits.
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []kb.Result `json:"results"`
}
