package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// MediaMeta carries resolved source metadata merged into a task's payload once
// the pipeline has probed the remote source.
type MediaMeta struct {
	Title     string
	Uploader  string
	DurationS int
}

// Update carries optional field deltas applied alongside a status transition.
// Result merges into the existing map, never replaces it.
type Update struct {
	Progress     *int
	Result       map[string]string
	ErrorMessage *string
	Meta         *MediaMeta
}

// Queue is a durable priority queue over the task store. All mutations are
// serialized behind one mutex and persist before the in-memory index is
// considered authoritative: a failed write leaves memory untouched.
type Queue struct {
	mu     sync.Mutex
	store  *Store
	tasks  map[string]*Task
	order  []string // queued task IDs: priority desc, then creation time asc
	logger *slog.Logger
}

func NewQueue(store *Store, logger *slog.Logger) (*Queue, error) {
	q := &Queue{
		store:  store,
		tasks:  map[string]*Task{},
		logger: logger,
	}

	loaded, err := store.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, t := range loaded {
		q.tasks[t.ID] = t
	}

	// Rebuild the ordering index from the records themselves; the persisted
	// index is advisory.
	var queued []*Task
	for _, t := range q.tasks {
		if t.Status == StatusQueued {
			queued = append(queued, t)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].Priority != queued[j].Priority {
			return queued[i].Priority > queued[j].Priority
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	for _, t := range queued {
		q.order = append(q.order, t.ID)
	}

	return q, nil
}

// Enqueue creates a Queued task, persists it, and inserts it into the ordering
// index at the position given by (priority desc, creation time asc).
func (q *Queue) Enqueue(typ Type, payload Payload, priority int, requesterKey string) (string, error) {
	t, err := newTask(typ, payload, priority, requesterKey)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Put(t); err != nil {
		return "", err
	}

	q.tasks[t.ID] = t
	q.insertOrdered(t)
	q.store.WriteIndex(q.order, len(q.tasks))

	q.logger.Info("task enqueued", "task_id", t.ID, "type", t.Type, "priority", t.Priority)
	return t.ID, nil
}

func (q *Queue) insertOrdered(t *Task) {
	pos := len(q.order)
	for i, id := range q.order {
		other := q.tasks[id]
		if t.Priority > other.Priority ||
			(t.Priority == other.Priority && t.CreatedAt.Before(other.CreatedAt)) {
			pos = i
			break
		}
	}
	q.order = append(q.order, "")
	copy(q.order[pos+1:], q.order[pos:])
	q.order[pos] = t.ID
}

func (q *Queue) removeFromOrder(id string) {
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// DequeueNext pops the highest-priority Queued task, transitions it to
// Processing and returns a copy, or nil if the queue is empty. Stale index
// entries left behind by cancellation races are discarded.
func (q *Queue) DequeueNext() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.order) > 0 {
		id := q.order[0]
		t, ok := q.tasks[id]
		if !ok || t.Status != StatusQueued {
			q.order = q.order[1:]
			continue
		}

		next := t.clone()
		next.Status = StatusProcessing
		now := time.Now()
		next.StartedAt = &now

		if err := q.store.Put(next); err != nil {
			return nil, err
		}

		q.order = q.order[1:]
		q.tasks[id] = next
		q.store.WriteIndex(q.order, len(q.tasks))

		return next.clone(), nil
	}

	return nil, nil
}

func legalTransition(from, to Status) bool {
	if from == to {
		return !from.Terminal()
	}
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// UpdateStatus applies a status transition plus optional field deltas. An
// illegal transition or unknown id is reported as an error, never applied.
func (q *Queue) UpdateStatus(id string, status Status, upd Update) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !legalTransition(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, status)
	}

	next := t.clone()
	next.Status = status
	if upd.Progress != nil {
		p := *upd.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		// Progress is monotonic within one processing attempt.
		if p > next.Progress {
			next.Progress = p
		}
	}
	for k, v := range upd.Result {
		next.Result[k] = v
	}
	if upd.ErrorMessage != nil {
		next.ErrorMessage = *upd.ErrorMessage
	}
	if upd.Meta != nil {
		switch {
		case next.Payload.YouTube != nil:
			next.Payload.YouTube.Title = upd.Meta.Title
			next.Payload.YouTube.Uploader = upd.Meta.Uploader
			next.Payload.YouTube.DurationS = upd.Meta.DurationS
		case next.Payload.UploadMedia != nil:
			if upd.Meta.Title != "" {
				next.Payload.UploadMedia.Title = upd.Meta.Title
			}
		}
	}
	if status.Terminal() && next.CompletedAt == nil {
		now := time.Now()
		next.CompletedAt = &now
	}

	if err := q.store.Put(next); err != nil {
		return err
	}
	q.tasks[id] = next
	return nil
}

// Cancel is legal only while the task is still Queued. A Processing task runs
// its stages to completion and cannot be aborted.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status == StatusProcessing {
		return fmt.Errorf("%w: task is processing and cannot be cancelled", ErrIllegalTransition)
	}
	if t.Status != StatusQueued {
		return fmt.Errorf("%w: task is %s and cannot be cancelled", ErrIllegalTransition, t.Status)
	}

	next := t.clone()
	next.Status = StatusCancelled
	now := time.Now()
	next.CompletedAt = &now

	if err := q.store.Put(next); err != nil {
		return err
	}
	q.tasks[id] = next
	q.removeFromOrder(id)
	q.store.WriteIndex(q.order, len(q.tasks))

	q.logger.Info("task cancelled", "task_id", id)
	return nil
}

// Restart resets a Failed task to Queued, clearing progress, result, error and
// timestamps, and re-inserts it into the ordering index.
func (q *Queue) Restart(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status != StatusFailed {
		return fmt.Errorf("%w: only failed tasks can be restarted, task is %s", ErrIllegalTransition, t.Status)
	}

	next := t.clone()
	next.Status = StatusQueued
	next.Progress = 0
	next.Result = map[string]string{}
	next.ErrorMessage = ""
	next.StartedAt = nil
	next.CompletedAt = nil

	if err := q.store.Put(next); err != nil {
		return err
	}
	q.tasks[id] = next
	q.insertOrdered(next)
	q.store.WriteIndex(q.order, len(q.tasks))

	q.logger.Info("task restarted", "task_id", id)
	return nil
}

// Delete removes a Failed or Cancelled task from the store and the index.
// Completed tasks are only removed by the retention sweep.
func (q *Queue) Delete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleteLocked(id)
}

func (q *Queue) deleteLocked(id string) error {
	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.Status != StatusFailed && t.Status != StatusCancelled {
		return fmt.Errorf("%w: only failed or cancelled tasks can be deleted, task is %s", ErrIllegalTransition, t.Status)
	}

	if err := q.store.Delete(id); err != nil {
		return err
	}
	delete(q.tasks, id)
	q.removeFromOrder(id)
	q.store.WriteIndex(q.order, len(q.tasks))
	return nil
}

// DeleteByStatus bulk-deletes every Failed or Cancelled task with the given
// status and returns how many were removed.
func (q *Queue) DeleteByStatus(status Status) (int, error) {
	if status != StatusFailed && status != StatusCancelled {
		return 0, fmt.Errorf("%w: bulk delete supports failed or cancelled only", ErrIllegalTransition)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for id, t := range q.tasks {
		if t.Status == status {
			ids = append(ids, id)
		}
	}
	deleted := 0
	for _, id := range ids {
		if err := q.deleteLocked(id); err != nil {
			q.logger.Warn("bulk delete", "task_id", id, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Position returns the task's 1-based position in the ordering index, or -1 if
// it is not queued.
func (q *Queue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, v := range q.order {
		if v == id {
			return i + 1
		}
	}
	return -1
}

func (q *Queue) Get(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// List returns tasks newest first, optionally filtered by status and
// requester key, capped at limit.
func (q *Queue) List(status Status, requesterKey string, limit int) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Task
	for _, t := range q.tasks {
		if status != "" && t.Status != status {
			continue
		}
		if requesterKey != "" && t.RequesterKey != requesterKey {
			continue
		}
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Snapshot is a point-in-time view of the queue for status observers.
type Snapshot struct {
	TotalTasks  int   `json:"total_tasks"`
	Queued      int   `json:"queued"`
	Processing  int   `json:"processing"`
	Completed   int   `json:"completed"`
	Failed      int   `json:"failed"`
	Cancelled   int   `json:"cancelled"`
	QueueLength int   `json:"queue_length"`
	CurrentTask *Task `json:"current_task,omitempty"`
}

func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		TotalTasks:  len(q.tasks),
		QueueLength: len(q.order),
	}
	for _, t := range q.tasks {
		switch t.Status {
		case StatusQueued:
			snap.Queued++
		case StatusProcessing:
			snap.Processing++
			snap.CurrentTask = t.clone()
		case StatusCompleted:
			snap.Completed++
		case StatusFailed:
			snap.Failed++
		case StatusCancelled:
			snap.Cancelled++
		}
	}
	return snap
}

// CleanupExpired deletes terminal tasks whose completion time is older than
// the retention window. Returns how many records were removed.
func (q *Queue) CleanupExpired(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for id, t := range q.tasks {
		if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}

	deleted := 0
	for _, id := range ids {
		if err := q.store.Delete(id); err != nil {
			q.logger.Warn("retention sweep", "task_id", id, "error", err)
			continue
		}
		delete(q.tasks, id)
		q.removeFromOrder(id)
		deleted++
	}
	if deleted > 0 {
		q.store.WriteIndex(q.order, len(q.tasks))
	}
	return deleted
}
