package pipeline

import (
	"context"
	"log/slog"

	"tubescribe/task"
)

// Observer receives progress and log events for a running task. It decouples
// the executor from any particular transport for status reporting.
type Observer interface {
	OnProgress(taskID string, percent int)
	OnLog(taskID string, message string, level slog.Level)
}

// QueueObserver records progress on the durable queue, where pollers read it,
// and mirrors per-task log lines to the process logger.
type QueueObserver struct {
	queue  *task.Queue
	logger *slog.Logger
}

func NewQueueObserver(queue *task.Queue, logger *slog.Logger) *QueueObserver {
	return &QueueObserver{queue: queue, logger: logger}
}

func (o *QueueObserver) OnProgress(taskID string, percent int) {
	err := o.queue.UpdateStatus(taskID, task.StatusProcessing, task.Update{Progress: &percent})
	if err != nil {
		o.logger.Warn("progress update failed", "task", taskID, "error", err)
	}
}

func (o *QueueObserver) OnLog(taskID string, message string, level slog.Level) {
	o.logger.Log(context.Background(), level, message, "task", taskID)
}
