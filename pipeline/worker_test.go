package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubescribe/config"
	"tubescribe/task"
)

func waitForStatus(t *testing.T, q *task.Queue, id string, want task.Status) *task.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if tk, found := q.Get(id); found && tk.Status == want {
			return tk
		}
		time.Sleep(10 * time.Millisecond)
	}
	tk, _ := q.Get(id)
	t.Fatalf("task %s never reached %s, last state: %+v", id, want, tk)
	return nil
}

func workerConfig(t *testing.T) *config.Config {
	cfg := testConfig(t)
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ErrorBackoff = 10 * time.Millisecond
	return cfg
}

func TestWorker_CompletesTask(t *testing.T) {
	cfg := workerConfig(t)
	q := newTestQueue(t, cfg)

	subPath := filepath.Join(cfg.UploadDir(), "talk.srt")
	require.NoError(t, os.WriteFile(subPath, []byte("1\n00:00:00,000 --> 00:00:02,000\nspoken line\n\n"), 0o644))

	summarizer := &mockSummarizer{summary: testSummary, provider: "openai"}
	exec := NewExecutor(cfg, q, NewQueueObserver(q, quietLogger()), &mockFetcher{}, &mockEngine{}, summarizer, &mockNotifier{}, quietLogger())
	worker := NewWorker(cfg, q, exec, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	id, err := q.Enqueue(task.TypeUploadSubtitle, task.Payload{UploadSubtitle: &task.UploadSubtitlePayload{
		SubtitleFile: subPath,
		Title:        "Talk",
	}}, 5, "tester")
	require.NoError(t, err)

	done := waitForStatus(t, q, id, task.StatusCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, subPath, done.Result["subtitle_file"])
	assert.NotNil(t, done.CompletedAt)
}

func TestWorker_MarksFailureAndKeepsGoing(t *testing.T) {
	cfg := workerConfig(t)
	q := newTestQueue(t, cfg)

	// First task fails at the metadata stage; the second succeeds.
	subPath := filepath.Join(cfg.UploadDir(), "talk.srt")
	require.NoError(t, os.WriteFile(subPath, []byte("1\n00:00:00,000 --> 00:00:02,000\nspoken line\n\n"), 0o644))

	fetcher := &mockFetcher{metaErr: errors.New("video unavailable")}
	summarizer := &mockSummarizer{summary: testSummary, provider: "openai"}
	exec := NewExecutor(cfg, q, NewQueueObserver(q, quietLogger()), fetcher, &mockEngine{}, summarizer, &mockNotifier{}, quietLogger())
	worker := NewWorker(cfg, q, exec, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	bad, err := q.Enqueue(task.TypeYouTube, task.Payload{YouTube: &task.YouTubePayload{URL: "https://example.com/v/1"}}, 9, "tester")
	require.NoError(t, err)
	good, err := q.Enqueue(task.TypeUploadSubtitle, task.Payload{UploadSubtitle: &task.UploadSubtitlePayload{
		SubtitleFile: subPath,
		Title:        "Talk",
	}}, 1, "tester")
	require.NoError(t, err)

	failed := waitForStatus(t, q, bad, task.StatusFailed)
	assert.Contains(t, failed.ErrorMessage, "video unavailable")

	waitForStatus(t, q, good, task.StatusCompleted)
}
