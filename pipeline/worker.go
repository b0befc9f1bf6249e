package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tubescribe/config"
	"tubescribe/task"
)

// Worker drains the queue one task at a time. A single worker keeps GPU and
// disk contention predictable; concurrency comes from the queue, not from
// parallel execution.
type Worker struct {
	cfg    *config.Config
	queue  *task.Queue
	exec   *Executor
	logger *slog.Logger
}

func NewWorker(cfg *config.Config, queue *task.Queue, exec *Executor, logger *slog.Logger) *Worker {
	return &Worker{cfg: cfg, queue: queue, exec: exec, logger: logger}
}

// Run polls for work until ctx is cancelled. Errors back off before the next
// poll so a broken dependency does not spin the loop.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "poll_interval", w.cfg.PollInterval)

	go w.runCleanup(ctx)

	for {
		if !sleepCtx(ctx, w.cfg.PollInterval) {
			w.logger.Info("worker stopped")
			return
		}

		t, err := w.queue.DequeueNext()
		if err != nil {
			w.logger.Error("dequeue failed", "error", err)
			sleepCtx(ctx, w.cfg.ErrorBackoff)
			continue
		}
		if t == nil {
			continue
		}

		w.logger.Info("processing task", "task", t.ID, "type", t.Type, "priority", t.Priority)
		result, err := w.process(ctx, t)
		if err != nil {
			w.fail(t.ID, err)
			sleepCtx(ctx, w.cfg.ErrorBackoff)
			continue
		}
		w.complete(t.ID, result)
	}
}

// process shields the loop from a misbehaving collaborator. A panic inside a
// stage fails that task only, it never stops the queue.
func (w *Worker) process(ctx context.Context, t *task.Task) (result map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task processing panicked", "task", t.ID, "panic", r)
			err = fmt.Errorf("internal error while processing: %v", r)
		}
	}()
	return w.exec.Process(ctx, t)
}

func (w *Worker) complete(id string, result map[string]string) {
	progress := 100
	err := w.queue.UpdateStatus(id, task.StatusCompleted, task.Update{
		Progress: &progress,
		Result:   result,
	})
	if err != nil {
		w.logger.Error("could not mark task completed", "task", id, "error", err)
		return
	}
	w.logger.Info("task completed", "task", id)
}

func (w *Worker) fail(id string, cause error) {
	msg := cause.Error()
	err := w.queue.UpdateStatus(id, task.StatusFailed, task.Update{ErrorMessage: &msg})
	if err != nil {
		w.logger.Error("could not mark task failed", "task", id, "error", err)
		return
	}
	w.logger.Warn("task failed", "task", id, "error", msg)
}

// runCleanup periodically removes expired terminal tasks.
func (w *Worker) runCleanup(ctx context.Context) {
	if w.cfg.CleanupInterval <= 0 || w.cfg.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.queue.CleanupExpired(w.cfg.Retention); n > 0 {
				w.logger.Info("cleaned up expired tasks", "count", n)
			}
		}
	}
}

// sleepCtx waits for d or until ctx is done. Returns false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
