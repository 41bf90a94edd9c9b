package api

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/execdesk/execdesk/internal/agent"
	"github.com/execdesk/execdesk/internal/bus"
	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
	"github.com/execdesk/execdesk/internal/coordinator"
	"github.com/execdesk/execdesk/internal/kb"
	"github.com/execdesk/execdesk/internal/task"
)

// Handler contains the HTTP handlers for the ExecDesk API.
type Handler struct {
	registry *agent.Registry
	bus      *bus.Bus
	tasks    *task.Manager
	store    *kb.Store
	coord    *coordinator.Coordinator
	logger   *logger.Logger
}

// NewHandler creates an API handler over the core components.
func NewHandler(registry *agent.Registry, b *bus.Bus, tasks *task.Manager, store *kb.Store, coord *coordinator.Coordinator, log *logger.Logger) *Handler {
	return &Handler{
		registry: registry,
		bus:      b,
		tasks:    tasks,
		store:    store,
		coord:    coord,
		logger:   log,
	}
}

// respondError writes an AppError (wrapping anything else as internal) in the
// same envelope the error middleware uses.
func respondError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.InternalError("unexpected error", err)
	}
	c.JSON(appErr.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}

// Chat endpoints

// SubmitChat accepts a user message for the executive team.
// POST /api/v1/chat
func (h *Handler) SubmitChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}

	useKB := true
	if req.UseKB != nil {
		useKB = *req.UseKB
	}

	messageID, err := h.coord.Submit(c.Request.Context(), coordinator.SubmitParams{
		Message:   req.Message,
		RoleHint:  req.Role,
		UseKB:     useKB,
		ModelHint: req.Model,
		Params: coordinator.GenerateParams{
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	pending, err := h.coord.Poll(messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ChatAccepted{
		MessageID: pending.MessageID,
		TaskID:    pending.TaskID,
		AgentID:   pending.AssignedAgentID,
		Role:      string(pending.AssignedRole),
		Status:    string(pending.Status),
	})
}

// PollChat returns the state of a submitted request.
// GET /api/v1/chat/:messageId
func (h *Handler) PollChat(c *gin.Context) {
	pending, err := h.coord.Poll(c.Param("messageId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatStatusFromRequest(pending))
}

// CancelChat cancels a generating request.
// DELETE /api/v1/chat/:messageId
func (h *Handler) CancelChat(c *gin.Context) {
	pending, err := h.coord.Cancel(c.Param("messageId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatStatusFromRequest(pending))
}

// Agent endpoints

// ListAgents lists the executive team.
// GET /api/v1/agents
func (h *Handler) ListAgents(c *gin.Context) {
	agents := h.registry.List()
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentToResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// GetAgent returns one agent.
// GET /api/v1/agents/:agentId
func (h *Handler) GetAgent(c *gin.Context) {
	a, err := h.registry.Get(c.Param("agentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToResponse(a))
}

// ListAgentMessages returns an agent's inbox.
// GET /api/v1/agents/:agentId/messages?unread=true
func (h *Handler) ListAgentMessages(c *gin.Context) {
	agentID := c.Param("agentId")
	if _, err := h.registry.Get(agentID); err != nil {
		respondError(c, err)
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))

	msgs := h.bus.MessagesFor(agentID, unreadOnly)
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// ListAgentTasks returns an agent's assigned tasks.
// GET /api/v1/agents/:agentId/tasks?status=
func (h *Handler) ListAgentTasks(c *gin.Context) {
	agentID := c.Param("agentId")
	if _, err := h.registry.Get(agentID); err != nil {
		respondError(c, err)
		return
	}
	filter, err := statusFilterFromQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}
	tasks, err := h.tasks.TasksForAgent(c.Request.Context(), agentID, filter...)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// MarkMessageRead records a read receipt.
// POST /api/v1/messages/:messageId/read
func (h *Handler) MarkMessageRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}
	if err := h.bus.MarkRead(c.Param("messageId"), req.AgentID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// statusFilterFromQuery parses an optional ?status= query parameter.
func statusFilterFromQuery(c *gin.Context) ([]task.Status, error) {
	raw := c.Query("status")
	if raw == "" {
		return nil, nil
	}
	status, ok := task.ParseStatus(raw)
	if !ok {
		return nil, errors.ValidationError("status", "unknown status "+raw)
	}
	return []task.Status{status}, nil
}

// Task endpoints

// CreateTask creates a task directly.
// POST /api/v1/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}

	created, err := h.tasks.Create(c.Request.Context(), task.CreateParams{
		Title:        req.Title,
		Description:  req.Description,
		AssignedTo:   req.AssignedTo,
		CreatedBy:    req.CreatedBy,
		Priority:     req.Priority,
		DueDate:      req.DueDate,
		Dependencies: req.Dependencies,
		Metadata:     req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, taskToResponse(created))
}

// ListTasks lists every task.
// GET /api/v1/tasks?status=
func (h *Handler) ListTasks(c *gin.Context) {
	filter, err := statusFilterFromQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}
	tasks, err := h.tasks.AllTasks(c.Request.Context(), filter...)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// GetTask returns one task.
// GET /api/v1/tasks/:taskId
func (h *Handler) GetTask(c *gin.Context) {
	t, err := h.tasks.Get(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskToResponse(t))
}

// UpdateTaskStatus transitions a task.
// PUT /api/v1/tasks/:taskId/status
func (h *Handler) UpdateTaskStatus(c *gin.Context) {
	var req UpdateTaskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}
	status, ok := task.ParseStatus(req.Status)
	if !ok {
		respondError(c, errors.ValidationError("status", "unknown status "+req.Status))
		return
	}

	t, err := h.tasks.UpdateStatus(c.Request.Context(), c.Param("taskId"), status, req.Progress, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskToResponse(t))
}

// ReassignTask moves a task to another agent.
// PUT /api/v1/tasks/:taskId/assignee
func (h *Handler) ReassignTask(c *gin.Context) {
	var req ReassignTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}
	t, err := h.tasks.Reassign(c.Request.Context(), c.Param("taskId"), req.AssignedTo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskToResponse(t))
}

// AddTaskNote appends a note to a task.
// POST /api/v1/tasks/:taskId/notes
func (h *Handler) AddTaskNote(c *gin.Context) {
	var req AddNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}
	t, err := h.tasks.AddNote(c.Request.Context(), c.Param("taskId"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskToResponse(t))
}

// DeleteTask removes a task.
// DELETE /api/v1/tasks/:taskId
func (h *Handler) DeleteTask(c *gin.Context) {
	if err := h.tasks.Delete(c.Request.Context(), c.Param("taskId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Knowledge base endpoints

// AddDocument ingests content.
// POST /api/v1/kb/documents
func (h *Handler) AddDocument(c *gin.Context) {
	var req AddDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}
	doc, err := h.store.AddDocument(c.Request.Context(), kb.SourceType(req.SourceType), req.SourceName, req.Content, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, documentToResponse(doc, false))
}

// ListDocuments lists documents without content.
// GET /api/v1/kb/documents
func (h *Handler) ListDocuments(c *gin.Context) {
	docs := h.store.ListDocuments()
	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentToResponse(d, false))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

// GetDocument returns one document with content.
// GET /api/v1/kb/documents/:documentId
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.store.GetDocument(c.Param("documentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, documentToResponse(doc, true))
}

// UpdateDocument replaces a document's content, bumping its version.
// PUT /api/v1/kb/documents/:documentId
func (h *Handler) UpdateDocument(c *gin.Context) {
	var req UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}
	doc, err := h.store.UpdateDocument(c.Request.Context(), c.Param("documentId"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, documentToResponse(doc, false))
}

// RollbackDocument restores a prior version.
// POST /api/v1/kb/documents/:documentId/rollback
func (h *Handler) RollbackDocument(c *gin.Context) {
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}
	doc, err := h.store.Rollback(c.Request.Context(), c.Param("documentId"), req.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, documentToResponse(doc, true))
}

// DeleteDocument removes a document and its index entries.
// DELETE /api/v1/kb/documents/:documentId
func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.store.DeleteDocument(c.Param("documentId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Search runs a hybrid retrieval query.
// POST /api/v1/kb/search
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.BadRequest(err.Error()))
		return
	}
	wS, wK := 0.7, 0.3
	if req.SemanticWeight != nil {
		wS = *req.SemanticWeight
	}
	if req.KeywordWeight != nil {
		wK = *req.KeywordWeight
	}
	var filter kb.Filter
	if req.DocumentID != "" {
		want := req.DocumentID
		filter = func(docID string, _ map[string]any) bool { return docID == want }
	}

	results, err := h.store.Search(c.Request.Context(), req.Query, req.Limit, wS, wK, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SearchResponse{Query: req.Query, Results: results})
}

// CompactStore rebuilds the retrieval indices.
// POST /api/v1/kb/compact
func (h *Handler) CompactStore(c *gin.Context) {
	if err := h.store.Compact(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.store.Stats())
}

// Health reports overall and per-component status. Any degraded component
// degrades the overall status.
func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	components := gin.H{"bus": "ok"}

	if err := h.tasks.Health(c.Request.Context()); err != nil {
		status = "degraded"
		components["tasks"] = "degraded"
	} else {
		components["tasks"] = "ok"
	}
	if err := h.store.Health(); err != nil {
		status = "degraded"
		components["kb"] = "degraded"
	} else {
		components["kb"] = "ok"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"components": components,
		"agents":     len(h.registry.List()),
		"bus_depth":  h.bus.HistoryLen(),
		"kb":         h.store.Stats(),
	})
}
