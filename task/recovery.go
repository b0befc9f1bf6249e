package task

// ArtifactProbe checks for observable evidence that an orphaned task actually
// finished before the previous process died. On success it returns the
// artifact paths to record in the task's result.
type ArtifactProbe func(t *Task) (artifacts map[string]string, ok bool)

// Reconcile resolves every task left in Processing by a previous process
// instance. Tasks with a valid output artifact become Completed, the rest
// Failed. It runs once, before the worker starts, and never leaves a task in
// Processing. Safe to call again: a second pass finds nothing to do.
func (q *Queue) Reconcile(probe ArtifactProbe) (completed, failed int) {
	q.mu.Lock()
	var orphans []string
	for id, t := range q.tasks {
		if t.Status == StatusProcessing {
			orphans = append(orphans, id)
		}
	}
	q.mu.Unlock()

	for _, id := range orphans {
		t, ok := q.Get(id)
		if !ok {
			continue
		}

		if artifacts, done := probe(t); done {
			progress := 100
			err := q.UpdateStatus(id, StatusCompleted, Update{
				Progress: &progress,
				Result:   artifacts,
			})
			if err != nil {
				q.logger.Error("reconcile completed", "task_id", id, "error", err)
				continue
			}
			q.logger.Info("orphaned task reconciled as completed", "task_id", id)
			completed++
			continue
		}

		msg := "task was orphaned by an abnormal shutdown before it finished"
		if err := q.UpdateStatus(id, StatusFailed, Update{ErrorMessage: &msg}); err != nil {
			q.logger.Error("reconcile failed", "task_id", id, "error", err)
			continue
		}
		q.logger.Info("orphaned task reconciled as failed", "task_id", id)
		failed++
	}
	return completed, failed
}
