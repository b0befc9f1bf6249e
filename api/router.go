package api

import (
	"github.com/gin-gonic/gin"

	"tubescribe/config"
	"tubescribe/task"
)

func SetupRouter(queue *task.Queue, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(queue, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		// Task submission
		v1.POST("/tasks", h.handleCreateTask)
		v1.POST("/uploads/media", h.handleUploadMedia)
		v1.POST("/uploads/subtitle", h.handleUploadSubtitle)

		// Observation
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTask)
		v1.GET("/queue/status", h.handleQueueStatus)

		// Lifecycle control
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)
		v1.PATCH("/tasks/:taskId/restart", h.handleRestartTask)
		v1.DELETE("/tasks/:taskId", h.handleDeleteTask)
		v1.DELETE("/tasks", h.handleDeleteTasksByStatus)
	}
	return r
}
