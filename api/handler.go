package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tubescribe/config"
	"tubescribe/filename"
	"tubescribe/task"
)

type Handler struct {
	queue *task.Queue
	cfg   *config.Config
}

func NewHandler(queue *task.Queue, cfg *config.Config) *Handler {
	return &Handler{queue: queue, cfg: cfg}
}

type CreateTaskRequest struct {
	URL        string `json:"url" binding:"required"`
	Priority   int    `json:"priority"`
	Auto       bool   `json:"auto"`
	AIProvider string `json:"aiProvider"`
}

// handleCreateTask enqueues a remote-media task.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an http(s) link"})
		return
	}

	payload := task.Payload{YouTube: &task.YouTubePayload{
		URL:        req.URL,
		Auto:       req.Auto,
		AIProvider: req.AIProvider,
	}}
	id, err := h.queue.Enqueue(task.TypeYouTube, payload, req.Priority, requesterKey(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": id, "queuePosition": h.queue.Position(id)})
}

// handleUploadMedia accepts an audio/video file and enqueues it for
// transcription and summarization.
func (h *Handler) handleUploadMedia(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	dest, err := h.saveUpload(c, file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload", "details": err.Error()})
		return
	}

	payload := task.Payload{UploadMedia: &task.UploadMediaPayload{
		AudioFile:  dest,
		Title:      c.PostForm("title"),
		AIProvider: c.PostForm("aiProvider"),
	}}
	id, err := h.queue.Enqueue(task.TypeUploadMedia, payload, formPriority(c), requesterKey(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": id, "queuePosition": h.queue.Position(id)})
}

// handleUploadSubtitle accepts a ready transcript and enqueues a
// summarize-only task.
func (h *Handler) handleUploadSubtitle(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	dest, err := h.saveUpload(c, file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload", "details": err.Error()})
		return
	}

	payload := task.Payload{UploadSubtitle: &task.UploadSubtitlePayload{
		SubtitleFile: dest,
		Title:        c.PostForm("title"),
	}}
	id, err := h.queue.Enqueue(task.TypeUploadSubtitle, payload, formPriority(c), requesterKey(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": id, "queuePosition": h.queue.Position(id)})
}

func (h *Handler) saveUpload(c *gin.Context, file *multipart.FileHeader) (string, error) {
	ext := filepath.Ext(file.Filename)
	stem := strings.TrimSuffix(filepath.Base(file.Filename), ext)
	name := fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), filename.Sanitize(stem), ext)
	dest := filepath.Join(h.cfg.UploadDir(), name)
	if err := c.SaveUploadedFile(file, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// handleListTasks lists tasks, newest first, with optional status, mine and
// limit filters.
func (h *Handler) handleListTasks(c *gin.Context) {
	var status task.Status
	if s := c.Query("status"); s != "" {
		status = task.Status(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + s})
			return
		}
	}

	requester := ""
	if c.Query("mine") == "true" {
		requester = requesterKey(c)
	}

	limit := 0
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	c.JSON(http.StatusOK, h.queue.List(status, requester, limit))
}

// handleGetTask retrieves a single task with its queue position.
func (h *Handler) handleGetTask(c *gin.Context) {
	t, found := h.queue.Get(c.Param("taskId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": t, "queuePosition": h.queue.Position(t.ID)})
}

// handleQueueStatus reports aggregate queue counters.
func (h *Handler) handleQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Status())
}

// handleCancelTask cancels a queued task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	if err := h.queue.Cancel(c.Param("taskId")); err != nil {
		h.writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task cancelled"})
}

// handleRestartTask re-queues a failed task.
func (h *Handler) handleRestartTask(c *gin.Context) {
	id := c.Param("taskId")
	if err := h.queue.Restart(id); err != nil {
		h.writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task requeued", "queuePosition": h.queue.Position(id)})
}

// handleDeleteTask removes one terminal task, or every task of a terminal
// status when the status query parameter is set on the collection route.
func (h *Handler) handleDeleteTask(c *gin.Context) {
	if err := h.queue.Delete(c.Param("taskId")); err != nil {
		h.writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task deleted"})
}

func (h *Handler) handleDeleteTasksByStatus(c *gin.Context) {
	status := task.Status(c.Query("status"))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status query parameter is required and must be valid"})
		return
	}

	n, err := h.queue.DeleteByStatus(status)
	if err != nil {
		h.writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) writeQueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

// requesterKey identifies the caller for per-requester task filtering.
func requesterKey(c *gin.Context) string {
	if key := c.GetHeader("X-Requester-Key"); key != "" {
		return key
	}
	return c.ClientIP()
}

func formPriority(c *gin.Context) int {
	n, err := strconv.Atoi(c.PostForm("priority"))
	if err != nil {
		return task.MinPriority
	}
	return n
}
