// Package pipeline executes tasks end to end: resolve metadata, obtain a
// subtitle track, summarize, and record artifacts. Every stage reports
// progress through an observer so pollers see monotonic milestones even when
// cache hits skip stages.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"tubescribe/config"
	"tubescribe/filename"
	"tubescribe/media"
	"tubescribe/notify"
	"tubescribe/summarize"
	"tubescribe/task"
	"tubescribe/transcribe"
)

// Progress milestones reported while a task runs.
const (
	progressMetadata      = 10
	progressDownloadStart = 15
	progressDownloaded    = 50
	progressTranscribing  = 60
	progressTranscribed   = 80
	progressSummarizing   = 90
)

// Fetcher is the remote-media dependency, satisfied by media.Fetcher.
type Fetcher interface {
	FetchMetadata(ctx context.Context, url string) (*media.Metadata, error)
	Download(ctx context.Context, url, dir, baseName string) (string, error)
	ExtractSubtitles(ctx context.Context, url string, meta *media.Metadata, langs []string, dir, baseName string) (*media.Subtitle, error)
}

// Summarizer is the AI dependency, satisfied by summarize.Service.
type Summarizer interface {
	Summarize(ctx context.Context, content string, info summarize.HeaderInfo, providerOverride string) (summary, provider string, err error)
}

type Executor struct {
	cfg        *config.Config
	queue      *task.Queue
	obs        Observer
	fetcher    Fetcher
	engine     transcribe.Engine
	summarizer Summarizer
	notifier   notify.Notifier
	logger     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewExecutor(cfg *config.Config, queue *task.Queue, obs Observer, fetcher Fetcher, engine transcribe.Engine, summarizer Summarizer, notifier notify.Notifier, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:        cfg,
		queue:      queue,
		obs:        obs,
		fetcher:    fetcher,
		engine:     engine,
		summarizer: summarizer,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Process runs one task to the end and returns the artifact map recorded on
// completion. The caller owns the terminal status transition.
func (e *Executor) Process(ctx context.Context, t *task.Task) (map[string]string, error) {
	switch t.Type {
	case task.TypeYouTube:
		return e.processYouTube(ctx, t)
	case task.TypeUploadMedia:
		return e.processUploadMedia(ctx, t)
	case task.TypeUploadSubtitle:
		return e.processUploadSubtitle(t)
	default:
		return nil, fmt.Errorf("unknown task type: %s", t.Type)
	}
}

func (e *Executor) processYouTube(ctx context.Context, t *task.Task) (map[string]string, error) {
	p := t.Payload.YouTube

	// Metadata comes first: the content key depends on the resolved title,
	// not the raw URL, so no cache lookup is possible before this point.
	meta, err := e.fetcher.FetchMetadata(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	e.mergeMeta(t.ID, &task.MediaMeta{
		Title:     meta.Title,
		Uploader:  meta.Uploader,
		DurationS: int(meta.Duration),
	})
	e.obs.OnProgress(t.ID, progressMetadata)
	e.notifier.Notify(ctx, fmt.Sprintf("Processing video\nTitle: %s\nChannel: %s", meta.Title, meta.Uploader))

	base := e.baseName(filename.Sanitize(meta.Title), p.Auto)
	result := map[string]string{"title": meta.Title}

	subPath, subContent, err := e.obtainRemoteSubtitle(ctx, t.ID, p.URL, meta, base, result)
	if err != nil {
		return nil, err
	}
	e.obs.OnProgress(t.ID, progressTranscribed)
	result["subtitle_file"] = subPath

	info := summarize.HeaderInfo{
		Title:    meta.Title,
		Uploader: meta.Uploader,
		URL:      p.URL,
		Duration: time.Duration(meta.Duration) * time.Second,
	}
	if err := e.obtainSummary(ctx, t.ID, subContent, info, base, p.AIProvider, result); err != nil {
		return nil, err
	}

	e.notifyDone(ctx, meta.Title, result["summary_file"])
	return result, nil
}

func (e *Executor) processUploadMedia(ctx context.Context, t *task.Task) (map[string]string, error) {
	p := t.Payload.UploadMedia

	if _, err := os.Stat(p.AudioFile); err != nil {
		return nil, fmt.Errorf("uploaded media not readable: %w", err)
	}

	title := p.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(p.AudioFile), filepath.Ext(p.AudioFile))
	}
	base := e.baseName(filename.Sanitize(title), false)
	e.mergeMeta(t.ID, &task.MediaMeta{Title: title})
	e.obs.OnProgress(t.ID, progressMetadata)
	result := map[string]string{"title": title, "media_file": p.AudioFile}

	subPath := p.SubtitlePath
	var subContent string
	switch {
	case filename.ValidArtifact(subPath, e.cfg.MinArtifactSize):
		data, err := os.ReadFile(subPath)
		if err != nil {
			return nil, err
		}
		subContent = string(data)
		e.obs.OnLog(t.ID, "using provided subtitle "+subPath, slog.LevelInfo)
	default:
		if cached, content, ok := e.subtitleCacheHit(t.ID, base, result); ok {
			subPath, subContent = cached, content
			break
		}
		var err error
		subPath, subContent, err = e.transcribeToFile(ctx, t.ID, p.AudioFile, base)
		if err != nil {
			return nil, err
		}
	}
	e.obs.OnProgress(t.ID, progressTranscribed)
	result["subtitle_file"] = subPath

	if filename.ValidArtifact(p.SummaryPath, e.cfg.MinArtifactSize) {
		e.obs.OnLog(t.ID, "using provided summary "+p.SummaryPath, slog.LevelInfo)
		result["summary_file"] = p.SummaryPath
	} else {
		info := summarize.HeaderInfo{Filename: filepath.Base(p.AudioFile), Title: title}
		if err := e.obtainSummary(ctx, t.ID, subContent, info, base, p.AIProvider, result); err != nil {
			return nil, err
		}
	}

	e.notifyDone(ctx, title, result["summary_file"])
	return result, nil
}

// processUploadSubtitle completes immediately: the artifact was stored when
// the upload was accepted, there is nothing left to compute.
func (e *Executor) processUploadSubtitle(t *task.Task) (map[string]string, error) {
	p := t.Payload.UploadSubtitle

	if !filename.ValidArtifact(p.SubtitleFile, 0) {
		return nil, fmt.Errorf("uploaded subtitle %s is missing or empty", p.SubtitleFile)
	}

	title := p.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(p.SubtitleFile), filepath.Ext(p.SubtitleFile))
	}
	return map[string]string{"title": title, "subtitle_file": p.SubtitleFile}, nil
}

// obtainRemoteSubtitle returns the subtitle track for a remote source. Order:
// a cached artifact with the same content key, then a native track scoring
// above the acceptance threshold, then download plus transcription. The media
// file is only downloaded when transcription is actually needed.
func (e *Executor) obtainRemoteSubtitle(ctx context.Context, taskID, url string, meta *media.Metadata, base string, result map[string]string) (string, string, error) {
	if path, content, ok := e.subtitleCacheHit(taskID, base, result); ok {
		return path, content, nil
	}

	sub, err := e.fetcher.ExtractSubtitles(ctx, url, meta, e.cfg.PreferredLanguages, e.cfg.SubtitleDir(), base)
	if err != nil {
		e.obs.OnLog(taskID, "native subtitle extraction failed: "+err.Error(), slog.LevelWarn)
	}
	if sub != nil {
		if media.ShouldUseSubtitle(sub.Score, sub.Source, e.cfg.SubtitleThreshold) {
			path := filepath.Join(e.cfg.SubtitleDir(), base+".srt")
			if sub.Path != path {
				if err := os.WriteFile(path, []byte(sub.Content), 0o644); err != nil {
					return "", "", err
				}
				os.Remove(sub.Path)
			}
			e.obs.OnLog(taskID, fmt.Sprintf("using native %s subtitle (%s, score %d)", sub.Lang, sub.Source, sub.Score), slog.LevelInfo)
			result["subtitle_source"] = "native-" + sub.Source
			return path, sub.Content, nil
		}
		e.obs.OnLog(taskID, fmt.Sprintf("native subtitle rejected (%s, score %d)", sub.Source, sub.Score), slog.LevelInfo)
		os.Remove(sub.Path)
	}

	audio, err := e.downloadMedia(ctx, taskID, url, base, result)
	if err != nil {
		return "", "", err
	}
	return e.transcribeToFile(ctx, taskID, audio, base)
}

// downloadMedia fetches the source media, reusing an already-downloaded file
// when one matches the title.
func (e *Executor) downloadMedia(ctx context.Context, taskID, url, base string, result map[string]string) (string, error) {
	if existing := filename.FindExistingMedia(e.cfg.DownloadDir(), filename.ContentKey(base)); existing != "" {
		e.obs.OnLog(taskID, "reusing downloaded media "+existing, slog.LevelInfo)
		result["media_file"] = existing
		result["media_cache"] = "hit"
		e.obs.OnProgress(taskID, progressDownloaded)
		return existing, nil
	}

	if err := e.checkDisk(); err != nil {
		return "", err
	}

	e.obs.OnProgress(taskID, progressDownloadStart)
	audio, err := e.fetcher.Download(ctx, url, e.cfg.DownloadDir(), base)
	if err != nil {
		return "", err
	}
	e.obs.OnProgress(taskID, progressDownloaded)
	result["media_file"] = audio
	return audio, nil
}

// subtitleCacheHit looks for a valid subtitle artifact with the same content
// key, copies it to the task's own target path and records the hit.
func (e *Executor) subtitleCacheHit(taskID, base string, result map[string]string) (string, string, bool) {
	matches := filename.FindMatches(e.cfg.SubtitleDir(), base+".srt", []string{".srt"}, e.cfg.MinArtifactSize)
	if len(matches) == 0 {
		return "", "", false
	}

	target := filepath.Join(e.cfg.SubtitleDir(), base+".srt")
	content, err := e.adoptArtifact(matches[0], target)
	if err != nil {
		e.obs.OnLog(taskID, "subtitle cache hit unusable: "+err.Error(), slog.LevelWarn)
		return "", "", false
	}

	e.obs.OnLog(taskID, "reusing subtitle "+matches[0], slog.LevelInfo)
	result["subtitle_cache"] = "hit"
	return target, content, true
}

// obtainSummary reuses a cached summary with the same content key or asks the
// AI chain for a fresh one, storing it under the task's base name.
func (e *Executor) obtainSummary(ctx context.Context, taskID, subContent string, info summarize.HeaderInfo, base, providerOverride string, result map[string]string) error {
	target := filepath.Join(e.cfg.SummaryDir(), base+".md")

	if matches := filename.FindMatches(e.cfg.SummaryDir(), base+".md", []string{".md"}, e.cfg.MinArtifactSize); len(matches) > 0 {
		if _, err := e.adoptArtifact(matches[0], target); err == nil {
			e.obs.OnLog(taskID, "reusing summary "+matches[0], slog.LevelInfo)
			result["summary_file"] = target
			result["summary_cache"] = "hit"
			return nil
		}
	}

	e.obs.OnProgress(taskID, progressSummarizing)

	text := media.StripSRT(subContent)
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("subtitle content is empty, nothing to summarize")
	}

	summary, provider, err := e.summarizer.Summarize(ctx, text, info, providerOverride)
	if err != nil {
		return err
	}
	if err := os.WriteFile(target, []byte(summary), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	result["summary_file"] = target
	result["ai_provider"] = provider
	return nil
}

// transcribeToFile runs the speech-to-text engine and stores the result as an
// SRT artifact named after base.
func (e *Executor) transcribeToFile(ctx context.Context, taskID, audio, base string) (string, string, error) {
	e.obs.OnProgress(taskID, progressTranscribing)

	res, err := e.engine.Transcribe(ctx, audio, e.cfg.SubtitleDir())
	if err != nil {
		return "", "", err
	}

	content := media.FormatSRT(res.Segments)
	path := filepath.Join(e.cfg.SubtitleDir(), base+".srt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", fmt.Errorf("write subtitle: %w", err)
	}
	return path, content, nil
}

// adoptArtifact makes src available at target and returns its content. When
// the paths already agree no copy happens.
func (e *Executor) adoptArtifact(src, target string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	if src != target {
		if err := copyFile(src, target); err != nil {
			return "", err
		}
	}
	return string(data), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// baseName builds the dated artifact base name. Automated runs carry a marker
// so they can be told apart from user-requested ones by eye while still
// mapping to the same content key.
func (e *Executor) baseName(sanitizedTitle string, auto bool) string {
	prefix := e.now().Format("2006.01.02") + " - "
	if auto {
		prefix += "[Auto] "
	}
	return prefix + sanitizedTitle
}

// checkDisk refuses to start a download when free space is below the
// configured floor.
func (e *Executor) checkDisk() error {
	usage, err := disk.Usage(e.cfg.DataDir)
	if err != nil {
		e.logger.Warn("could not read disk usage", "path", e.cfg.DataDir, "error", err)
		return nil
	}
	if usage.Free < uint64(e.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk space: available %d, required %d", usage.Free, e.cfg.ThrottleFreeDisk)
	}
	return nil
}

func (e *Executor) mergeMeta(id string, meta *task.MediaMeta) {
	if err := e.queue.UpdateStatus(id, task.StatusProcessing, task.Update{Meta: meta}); err != nil {
		e.logger.Warn("metadata update failed", "task", id, "error", err)
	}
}

func (e *Executor) notifyDone(ctx context.Context, title, summaryPath string) {
	msg := "Finished: " + title
	if excerpt := summaryExcerpt(summaryPath); excerpt != "" {
		msg += "\n\n" + excerpt
	}
	e.notifier.Notify(ctx, msg)
}

// summaryExcerpt returns the first part of the summary body, skipping the
// provenance header.
func summaryExcerpt(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	body := string(data)
	if _, rest, found := strings.Cut(body, "\n---\n"); found {
		body = rest
	}
	body = strings.TrimSpace(body)

	runes := []rune(body)
	if len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return body
}

// ProbeArtifacts checks whether a task's expected summary already exists on
// disk. Used at startup to resolve tasks left in a processing state by a
// crash: a matching valid summary means the work finished.
func (e *Executor) ProbeArtifacts(t *task.Task) (map[string]string, bool) {
	title := t.Title()
	if title == "" {
		return nil, false
	}

	// Transcript uploads have no summary stage; the stored file alone decides.
	if t.Type == task.TypeUploadSubtitle {
		p := t.Payload.UploadSubtitle
		if p != nil && filename.ValidArtifact(p.SubtitleFile, 0) {
			return map[string]string{"title": title, "subtitle_file": p.SubtitleFile}, true
		}
		return nil, false
	}
	name := filename.Sanitize(title)

	summaries := filename.FindMatches(e.cfg.SummaryDir(), name+".md", []string{".md"}, e.cfg.MinArtifactSize)
	if len(summaries) == 0 {
		return nil, false
	}

	artifacts := map[string]string{"title": title, "summary_file": summaries[0]}
	if subs := filename.FindMatches(e.cfg.SubtitleDir(), name+".srt", []string{".srt"}, e.cfg.MinArtifactSize); len(subs) > 0 {
		artifacts["subtitle_file"] = subs[0]
	}
	return artifacts, true
}
