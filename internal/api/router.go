package api

import (
	"github.com/gin-gonic/gin"

	"github.com/execdesk/execdesk/internal/common/logger"
)

// NewRouter builds the gin engine with middleware, versioned API routes and
// the websocket event stream.
func NewRouter(h *Handler, stream *EventStream, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(Recovery(log))
	router.Use(RequestLogger(log))
	router.Use(ErrorHandler(log))
	router.Use(CORS())

	router.GET("/health", h.Health)
	router.GET("/ws/events", stream.Handle)

	v1 := router.Group("/api/v1")

	chat := v1.Group("/chat")
	{
		chat.POST("", h.SubmitChat)
		chat.GET("/:messageId", h.PollChat)
		chat.DELETE("/:messageId", h.CancelChat)
	}

	agents := v1.Group("/agents")
	{
		agents.GET("", h.ListAgents)
		agents.GET("/:agentId", h.GetAgent)
		agents.GET("/:agentId/messages", h.ListAgentMessages)
		agents.GET("/:agentId/tasks", h.ListAgentTasks)
	}

	v1.POST("/messages/:messageId/read", h.MarkMessageRead)

	tasks := v1.Group("/tasks")
	{
		tasks.POST("", h.CreateTask)
		tasks.GET("", h.ListTasks)
		tasks.GET("/:taskId", h.GetTask)
		tasks.PUT("/:taskId/status", h.UpdateTaskStatus)
		tasks.PUT("/:taskId/assignee", h.ReassignTask)
		tasks.POST("/:taskId/notes", h.AddTaskNote)
		tasks.DELETE("/:taskId", h.DeleteTask)
	}

	kbGroup := v1.Group("/kb")
	{
		kbGroup.POST("/documents", h.AddDocument)
		kbGroup.GET("/documents", h.ListDocuments)
		kbGroup.GET("/documents/:documentId", h.GetDocument)
		kbGroup.PUT("/documents/:documentId", h.UpdateDocument)
		kbGroup.POST("/documents/:documentId/rollback", h.RollbackDocument)
		kbGroup.DELETE("/documents/:documentId", h.DeleteDocument)
		kbGroup.POST("/search", h.Search)
		kbGroup.POST("/compact", h.CompactStore)
	}

	return router
}
