package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	store, err := NewStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	q, err := NewQueue(store, testLogger())
	require.NoError(t, err)
	return q
}

func enqueueYouTube(t *testing.T, q *Queue, url string, priority int) string {
	t.Helper()
	id, err := q.Enqueue(TypeYouTube, Payload{YouTube: &YouTubePayload{URL: url}}, priority, "tester")
	require.NoError(t, err)
	return id
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(TypeYouTube, Payload{}, 5, "tester")
	assert.Error(t, err)

	_, err = q.Enqueue(TypeYouTube, Payload{YouTube: &YouTubePayload{}}, 5, "tester")
	assert.Error(t, err)

	_, err = q.Enqueue(Type("bogus"), Payload{YouTube: &YouTubePayload{URL: "https://x"}}, 5, "tester")
	assert.Error(t, err)

	// A mismatched payload variant is rejected even when the type is known.
	_, err = q.Enqueue(TypeUploadMedia, Payload{YouTube: &YouTubePayload{URL: "https://x"}}, 5, "tester")
	assert.Error(t, err)
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q := newTestQueue(t)

	low := enqueueYouTube(t, q, "https://example.com/low", 2)
	high := enqueueYouTube(t, q, "https://example.com/high", 9)
	mid1 := enqueueYouTube(t, q, "https://example.com/mid1", 5)
	mid2 := enqueueYouTube(t, q, "https://example.com/mid2", 5)

	assert.Equal(t, 1, q.Position(high))
	assert.Equal(t, 2, q.Position(mid1))
	assert.Equal(t, 3, q.Position(mid2))
	assert.Equal(t, 4, q.Position(low))

	// Dequeue order: priority descending, FIFO within one priority.
	var got []string
	for {
		tk, err := q.DequeueNext()
		require.NoError(t, err)
		if tk == nil {
			break
		}
		got = append(got, tk.ID)
		assert.Equal(t, StatusProcessing, tk.Status)
		assert.NotNil(t, tk.StartedAt)
	}
	assert.Equal(t, []string{high, mid1, mid2, low}, got)
}

func TestQueue_PriorityClamping(t *testing.T) {
	q := newTestQueue(t)

	id := enqueueYouTube(t, q, "https://example.com/a", 42)
	tk, found := q.Get(id)
	require.True(t, found)
	assert.Equal(t, MaxPriority, tk.Priority)

	id = enqueueYouTube(t, q, "https://example.com/b", -3)
	tk, found = q.Get(id)
	require.True(t, found)
	assert.Equal(t, MinPriority, tk.Priority)
}

func TestQueue_UpdateStatusTransitions(t *testing.T) {
	q := newTestQueue(t)
	id := enqueueYouTube(t, q, "https://example.com/a", 5)

	// Queued cannot jump straight to Completed.
	err := q.UpdateStatus(id, StatusCompleted, Update{})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	tk, err := q.DequeueNext()
	require.NoError(t, err)
	require.Equal(t, id, tk.ID)

	// Progress updates keep the same status.
	p := 50
	require.NoError(t, q.UpdateStatus(id, StatusProcessing, Update{Progress: &p}))
	got, _ := q.Get(id)
	assert.Equal(t, 50, got.Progress)

	// Progress never goes backwards within an attempt.
	p = 30
	require.NoError(t, q.UpdateStatus(id, StatusProcessing, Update{Progress: &p}))
	got, _ = q.Get(id)
	assert.Equal(t, 50, got.Progress)

	require.NoError(t, q.UpdateStatus(id, StatusCompleted, Update{Result: map[string]string{"summary_file": "/tmp/x.md"}}))
	got, _ = q.Get(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "/tmp/x.md", got.Result["summary_file"])
	assert.NotNil(t, got.CompletedAt)

	// Terminal states accept no further transitions, not even to themselves.
	err = q.UpdateStatus(id, StatusCompleted, Update{})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	err = q.UpdateStatus(id, StatusProcessing, Update{})
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestQueue_UpdateStatusMergesMetadata(t *testing.T) {
	q := newTestQueue(t)
	id := enqueueYouTube(t, q, "https://example.com/a", 5)
	_, err := q.DequeueNext()
	require.NoError(t, err)

	p := 10
	require.NoError(t, q.UpdateStatus(id, StatusProcessing, Update{
		Progress: &p,
		Meta:     &MediaMeta{Title: "Some Talk", Uploader: "chan", DurationS: 90},
	}))

	got, _ := q.Get(id)
	assert.Equal(t, "Some Talk", got.Payload.YouTube.Title)
	assert.Equal(t, "chan", got.Payload.YouTube.Uploader)
	assert.Equal(t, 90, got.Payload.YouTube.DurationS)
}

func TestQueue_Cancel(t *testing.T) {
	q := newTestQueue(t)

	queued := enqueueYouTube(t, q, "https://example.com/a", 5)
	running := enqueueYouTube(t, q, "https://example.com/b", 9)

	tk, err := q.DequeueNext()
	require.NoError(t, err)
	require.Equal(t, running, tk.ID)

	// Only Queued tasks can be cancelled.
	require.NoError(t, q.Cancel(queued))
	got, _ := q.Get(queued)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, -1, q.Position(queued))

	err = q.Cancel(running)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	err = q.Cancel(queued)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	err = q.Cancel("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// A cancelled task never comes out of the queue again.
	tk, err = q.DequeueNext()
	require.NoError(t, err)
	assert.Nil(t, tk)
}

func TestQueue_Restart(t *testing.T) {
	q := newTestQueue(t)
	id := enqueueYouTube(t, q, "https://example.com/a", 5)

	// Only Failed tasks can be restarted.
	assert.ErrorIs(t, q.Restart(id), ErrIllegalTransition)

	_, err := q.DequeueNext()
	require.NoError(t, err)
	p := 60
	msg := "download failed"
	require.NoError(t, q.UpdateStatus(id, StatusProcessing, Update{Progress: &p, Result: map[string]string{"media_file": "/tmp/a.mp4"}}))
	require.NoError(t, q.UpdateStatus(id, StatusFailed, Update{ErrorMessage: &msg}))

	require.NoError(t, q.Restart(id))
	got, _ := q.Get(id)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Empty(t, got.Result)
	assert.Empty(t, got.ErrorMessage)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, 1, q.Position(id))
}

func TestQueue_DeleteRules(t *testing.T) {
	q := newTestQueue(t)

	queued := enqueueYouTube(t, q, "https://example.com/a", 5)
	assert.ErrorIs(t, q.Delete(queued), ErrIllegalTransition)

	require.NoError(t, q.Cancel(queued))
	require.NoError(t, q.Delete(queued))
	_, found := q.Get(queued)
	assert.False(t, found)

	assert.ErrorIs(t, q.Delete("missing"), ErrNotFound)
}

func TestQueue_DeleteByStatus(t *testing.T) {
	q := newTestQueue(t)

	msg := "boom"
	var failed []string
	for i := 0; i < 3; i++ {
		id := enqueueYouTube(t, q, "https://example.com/f", 5)
		_, err := q.DequeueNext()
		require.NoError(t, err)
		require.NoError(t, q.UpdateStatus(id, StatusFailed, Update{ErrorMessage: &msg}))
		failed = append(failed, id)
	}
	keep := enqueueYouTube(t, q, "https://example.com/keep", 5)

	_, err := q.DeleteByStatus(StatusQueued)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	n, err := q.DeleteByStatus(StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, id := range failed {
		_, found := q.Get(id)
		assert.False(t, found)
	}
	_, found := q.Get(keep)
	assert.True(t, found)
}

func TestQueue_ListAndStatus(t *testing.T) {
	q := newTestQueue(t)

	a := enqueueYouTube(t, q, "https://example.com/a", 5)
	_, err := q.Enqueue(TypeYouTube, Payload{YouTube: &YouTubePayload{URL: "https://example.com/b"}}, 5, "other")
	require.NoError(t, err)

	all := q.List("", "", 0)
	assert.Len(t, all, 2)

	mine := q.List("", "tester", 0)
	require.Len(t, mine, 1)
	assert.Equal(t, a, mine[0].ID)

	queued := q.List(StatusQueued, "", 1)
	assert.Len(t, queued, 1)

	tk, err := q.DequeueNext()
	require.NoError(t, err)

	snap := q.Status()
	assert.Equal(t, 2, snap.TotalTasks)
	assert.Equal(t, 1, snap.Queued)
	assert.Equal(t, 1, snap.Processing)
	assert.Equal(t, 1, snap.QueueLength)
	require.NotNil(t, snap.CurrentTask)
	assert.Equal(t, tk.ID, snap.CurrentTask.ID)
}

func TestQueue_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, testLogger())
	require.NoError(t, err)
	q, err := NewQueue(store, testLogger())
	require.NoError(t, err)

	low, err := q.Enqueue(TypeYouTube, Payload{YouTube: &YouTubePayload{URL: "https://example.com/low"}}, 2, "tester")
	require.NoError(t, err)
	high, err := q.Enqueue(TypeYouTube, Payload{YouTube: &YouTubePayload{URL: "https://example.com/high"}}, 8, "tester")
	require.NoError(t, err)

	// Fresh queue over the same directory rebuilds ordering from records.
	store2, err := NewStore(dir, testLogger())
	require.NoError(t, err)
	q2, err := NewQueue(store2, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, q2.Position(high))
	assert.Equal(t, 2, q2.Position(low))

	tk, err := q2.DequeueNext()
	require.NoError(t, err)
	assert.Equal(t, high, tk.ID)
}

func TestQueue_CleanupExpired(t *testing.T) {
	q := newTestQueue(t)

	done := enqueueYouTube(t, q, "https://example.com/done", 5)
	_, err := q.DequeueNext()
	require.NoError(t, err)
	require.NoError(t, q.UpdateStatus(done, StatusCompleted, Update{}))

	fresh := enqueueYouTube(t, q, "https://example.com/fresh", 5)

	// Age the completed task past the retention window.
	q.mu.Lock()
	old := time.Now().Add(-2 * time.Hour)
	q.tasks[done].CompletedAt = &old
	q.mu.Unlock()

	n := q.CleanupExpired(time.Hour)
	assert.Equal(t, 1, n)
	_, found := q.Get(done)
	assert.False(t, found)
	_, found = q.Get(fresh)
	assert.True(t, found)
}
