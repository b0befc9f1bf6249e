// Package media fetches remote media and native subtitles through the yt-dlp
// command line tool and formats transcription output as SRT.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Metadata is the subset of video information the pipeline needs before
// downloading anything.
type Metadata struct {
	Title     string                     `json:"title"`
	Uploader  string                     `json:"uploader"`
	Duration  float64                    `json:"duration"`
	Subtitles map[string]json.RawMessage `json:"subtitles"`
	AutoCaps  map[string]json.RawMessage `json:"automatic_captions"`
}

type Fetcher struct {
	bin     string
	retries int
	logger  *slog.Logger
}

// NewFetcher verifies the yt-dlp binary is reachable before any task runs.
func NewFetcher(bin string, retries int, logger *slog.Logger) (*Fetcher, error) {
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("yt-dlp binary not found or not in PATH: %s", bin)
	}
	if retries < 1 {
		retries = 1
	}
	return &Fetcher{bin: bin, retries: retries, logger: logger}, nil
}

// FetchMetadata resolves title, uploader, duration and the available subtitle
// tracks without downloading the media itself.
func (f *Fetcher) FetchMetadata(ctx context.Context, url string) (*Metadata, error) {
	out, err := f.run(ctx, "--dump-single-json", "--no-playlist", "--no-warnings", url)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(firstJSONLine(out), &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if meta.Title == "" {
		return nil, fmt.Errorf("metadata for %s has no title", url)
	}
	return &meta, nil
}

// formatSelectors is tried in order; later entries trade quality for
// compatibility with sources that reject the first selector.
var formatSelectors = []string{
	"best[ext=mp4]/best",
	"bestaudio/best",
}

// Download fetches the media file into dir named after baseName, cycling
// through format selectors with a bounded retry budget. It returns the path
// of the downloaded file.
func (f *Fetcher) Download(ctx context.Context, url, dir, baseName string) (string, error) {
	tmpl := filepath.Join(dir, baseName+".%(ext)s")

	var lastErr error
	attempts := 0
	for _, format := range formatSelectors {
		for try := 0; try < f.retries; try++ {
			if attempts > 0 {
				f.logger.Warn("retrying download", "url", url, "format", format, "attempt", attempts+1)
			}
			attempts++

			out, err := f.run(ctx,
				"-f", format,
				"-o", tmpl,
				"--no-playlist",
				"--no-warnings",
				"--no-simulate",
				"--print", "after_move:filepath",
				url,
			)
			if err != nil {
				lastErr = err
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				continue
			}

			path := lastNonEmptyLine(out)
			if path == "" {
				lastErr = fmt.Errorf("download produced no output path")
				continue
			}
			if info, err := os.Stat(path); err != nil || info.Size() == 0 {
				lastErr = fmt.Errorf("downloaded file %s is missing or empty", path)
				continue
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("download failed after %d attempts: %w", attempts, lastErr)
}

// Subtitle is a native subtitle track pulled from the source platform.
type Subtitle struct {
	Path    string
	Content string
	Lang    string
	Source  string // "manual" or "auto"
	Score   int
}

// ExtractSubtitles tries to pull an existing subtitle track for url, walking
// the preferred language list with manual tracks taking precedence over
// auto-generated ones. Returns nil when no track is available.
func (f *Fetcher) ExtractSubtitles(ctx context.Context, url string, meta *Metadata, langs []string, dir, baseName string) (*Subtitle, error) {
	lang, source := selectTrack(meta, langs)
	if lang == "" {
		return nil, nil
	}

	subsFlag := "--write-subs"
	if source == "auto" {
		subsFlag = "--write-auto-subs"
	}
	tmpl := filepath.Join(dir, baseName+".%(ext)s")

	_, err := f.run(ctx,
		"--skip-download",
		subsFlag,
		"--sub-langs", lang,
		"--convert-subs", "srt",
		"--no-playlist",
		"--no-warnings",
		"-o", tmpl,
		url,
	)
	if err != nil {
		return nil, fmt.Errorf("extract %s subtitles (%s): %w", lang, source, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.%s.srt", baseName, lang))
	data, err := os.ReadFile(path)
	if err != nil {
		// yt-dlp sometimes writes the bare language-less name.
		path = filepath.Join(dir, baseName+".srt")
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("subtitle file not written for %s", lang)
		}
	}

	content := string(data)
	return &Subtitle{
		Path:    path,
		Content: content,
		Lang:    lang,
		Source:  source,
		Score:   ScoreSubtitle(content, source),
	}, nil
}

// selectTrack picks the best available language track. Manual tracks win over
// auto-generated ones regardless of language order.
func selectTrack(meta *Metadata, langs []string) (lang, source string) {
	if meta == nil {
		return "", ""
	}
	for _, l := range langs {
		if _, ok := meta.Subtitles[l]; ok {
			return l, "manual"
		}
	}
	for _, l := range langs {
		if _, ok := meta.AutoCaps[l]; ok {
			return l, "auto"
		}
	}
	return "", ""
}

func (f *Fetcher) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, f.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	f.logger.Debug("executing", "cmd", f.bin, "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("%s failed: %w: %s", f.bin, err, trimForError(msg))
	}
	return stdout.String(), nil
}

// trimForError keeps error strings readable when yt-dlp dumps long traces.
func trimForError(s string) string {
	const max = 500
	if len(s) > max {
		return s[len(s)-max:]
	}
	return s
}

func firstJSONLine(out string) []byte {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") {
			return []byte(line)
		}
	}
	return []byte(out)
}

func lastNonEmptyLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
